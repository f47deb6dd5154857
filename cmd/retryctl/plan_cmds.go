package main

import (
	"encoding/json"
	"fmt"

	"github.com/animus-labs/stage-retry/internal/domain"
	"github.com/animus-labs/stage-retry/internal/execution/codec"
	"github.com/animus-labs/stage-retry/internal/retry"
	"github.com/spf13/cobra"
)

func (a *app) validateCmd() *cobra.Command {
	var currentPath, executedPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that an edited pipeline still matches the executed stage layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := a.readInput(currentPath)
			if err != nil {
				return err
			}
			executed, err := a.readInput(executedPath)
			if err != nil {
				return err
			}
			ok := retry.ValidateRetryYAML(string(current), string(executed))
			a.logger.Debug("structure compared", "current", currentPath, "executed", executedPath, "equivalent", ok)

			out := map[string]any{"resumable": ok}
			if !ok {
				out["error_message"] = "Adding, deleting or changing the identifier of a stage is not allowed for retry."
			}
			raw, err := json.Marshal(out)
			if err != nil {
				return err
			}
			if err := a.writeOutput(raw); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("pipeline structure changed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&currentPath, "current", "", "Current pipeline YAML")
	cmd.Flags().StringVar(&executedPath, "executed", "", "Executed pipeline YAML")
	_ = cmd.MarkFlagRequired("current")
	_ = cmd.MarkFlagRequired("executed")
	return cmd
}

func (a *app) groupsCmd() *cobra.Command {
	var historyPath string
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Group a stage execution history into series and parallel blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.loadHistory(historyPath)
			if err != nil {
				return err
			}
			raw, err := codec.MarshalRetryInfo(retry.GroupStages(records))
			if err != nil {
				return err
			}
			return a.writeOutput(raw)
		},
	}
	cmd.Flags().StringVar(&historyPath, "history", "", "Stage execution history JSON")
	_ = cmd.MarkFlagRequired("history")
	return cmd
}

type selectionFlags struct {
	historyPath string
	stages      []string
	runAll      bool
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.historyPath, "history", "", "Stage execution history JSON")
	cmd.Flags().StringSliceVar(&f.stages, "stages", nil, "Stage identifiers to retry")
	cmd.Flags().BoolVar(&f.runAll, "run-all", false, "Retry the given stages even if they succeeded")
	_ = cmd.MarkFlagRequired("history")
	_ = cmd.MarkFlagRequired("stages")
}

// selection resolves the retried stages and their grouped history.
func (a *app) selection(f selectionFlags) (domain.RetryInfo, []string, error) {
	records, err := a.loadHistory(f.historyPath)
	if err != nil {
		return domain.RetryInfo{}, nil, err
	}
	var selected []string
	if f.runAll {
		selected, err = retry.RequireKnownStages(records, f.stages)
	} else {
		selected, err = retry.FetchOnlyFailedStages(records, f.stages)
	}
	if err != nil {
		return domain.RetryInfo{}, nil, err
	}
	if len(selected) == 0 {
		return domain.RetryInfo{}, nil, fmt.Errorf("none of the requested stages failed")
	}
	a.logger.Info("stages selected", "requested", len(f.stages), "selected", selected)
	return retry.GroupStages(records), selected, nil
}

func (a *app) skipListCmd() *cobra.Command {
	var flags selectionFlags
	var planPath string
	cmd := &cobra.Command{
		Use:   "skiplist",
		Short: "Print the stages whose previous results a retry reuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, selected, err := a.selection(flags)
			if err != nil {
				return err
			}
			skipIdentifiers, err := retry.SkipIdentifiers(info, selected)
			if err != nil {
				return err
			}
			out := map[string]any{
				"retried_stages":   selected,
				"skip_identifiers": nonNil(skipIdentifiers),
			}
			if planPath != "" {
				plan, err := a.loadPlan(planPath)
				if err != nil {
					return err
				}
				skipList, err := retry.ComputeSkipList(info, selected, retry.PlanUUIDLookup(plan))
				if err != nil {
					return err
				}
				out["skip_list"] = nonNil(skipList)
			}
			raw, err := json.Marshal(out)
			if err != nil {
				return err
			}
			return a.writeOutput(raw)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&planPath, "plan", "", "Plan JSON used to resolve node uuids")
	return cmd
}

func (a *app) transformCmd() *cobra.Command {
	var flags selectionFlags
	var planPath, bindingsPath, strategyPath string
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Rewrite a plan so skipped stages replay earlier node executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, selected, err := a.selection(flags)
			if err != nil {
				return err
			}
			plan, err := a.loadPlan(planPath)
			if err != nil {
				return err
			}
			bindings, err := a.loadBindings(bindingsPath)
			if err != nil {
				return err
			}
			skipList, err := retry.ComputeSkipList(info, selected, retry.PlanUUIDLookup(plan))
			if err != nil {
				return err
			}
			var opts []retry.TransformOption
			if strategyPath != "" {
				strategies, err := a.loadBindings(strategyPath)
				if err != nil {
					return err
				}
				opts = append(opts, retry.WithStrategyBindings(strategies))
			}
			rewritten, err := retry.TransformPlan(plan, skipList, bindings, opts...)
			if err != nil {
				return err
			}
			a.logger.Info("plan rewritten", "skipped_nodes", len(skipList))
			raw, err := codec.MarshalPlan(rewritten)
			if err != nil {
				return err
			}
			return a.writeOutput(raw)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&planPath, "plan", "", "Plan JSON to rewrite")
	cmd.Flags().StringVar(&bindingsPath, "bindings", "", "JSON object of node uuid to previous node execution id")
	cmd.Flags().StringVar(&strategyPath, "strategy-bindings", "", "JSON object of strategy node uuid to previous node execution id")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("bindings")
	return cmd
}

func (a *app) mergeCmd() *cobra.Command {
	var previousPath, currentPath string
	var skip []string
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge skipped stages of a previous processed pipeline into the current one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := a.readInput(currentPath)
			if err != nil {
				return err
			}
			var previous []byte
			if len(skip) > 0 {
				previous, err = a.readInput(previousPath)
				if err != nil {
					return err
				}
			}
			merged, err := retry.MergeProcessedDefinition(previous, current, skip)
			if err != nil {
				return err
			}
			return a.writeOutput(merged)
		},
	}
	cmd.Flags().StringVar(&previousPath, "previous", "", "Processed YAML of the previous execution")
	cmd.Flags().StringVar(&currentPath, "current", "", "Processed YAML of the current pipeline")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "Stage identifiers taken from the previous execution")
	_ = cmd.MarkFlagRequired("current")
	return cmd
}

func (a *app) loadHistory(path string) ([]domain.StageExecutionRecord, error) {
	raw, err := a.readInput(path)
	if err != nil {
		return nil, err
	}
	records, err := codec.UnmarshalStageExecutions(raw)
	if err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return records, nil
}

func (a *app) loadPlan(path string) (domain.Plan, error) {
	raw, err := a.readInput(path)
	if err != nil {
		return domain.Plan{}, err
	}
	plan, err := codec.UnmarshalPlan(raw)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return plan, nil
}

func (a *app) loadBindings(path string) (map[string]string, error) {
	raw, err := a.readInput(path)
	if err != nil {
		return nil, err
	}
	var bindings map[string]string
	if err := json.Unmarshal(raw, &bindings); err != nil {
		return nil, fmt.Errorf("decode bindings: %w", err)
	}
	return bindings, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
