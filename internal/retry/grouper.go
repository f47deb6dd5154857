package retry

import "github.com/animus-labs/stage-retry/internal/domain"

// GroupStages partitions execution-ordered stage records into groups of
// contiguous records sharing a parent id. A new group starts whenever the
// parent id changes, so group order follows first appearance and records keep
// their input order.
func GroupStages(records []domain.StageExecutionRecord) domain.RetryInfo {
	info := domain.RetryInfo{}
	for i, record := range records {
		if i == 0 || record.ParentID != records[i-1].ParentID {
			info.Groups = append(info.Groups, domain.Group{ParentID: record.ParentID})
		}
		last := &info.Groups[len(info.Groups)-1]
		last.Stages = append(last.Stages, record)
	}
	return info
}
