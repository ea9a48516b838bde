package sync

import (
	"context"
	"encoding/json"
	"net/url"
	"reflect"
	"sort"

	"github.com/timberline/fleetsync/internal/logging"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/remote"
)

// DuplicateFilter decides whether a checklist submission is identical to
// the most recent remote record for the same machine. The check is
// best-effort and fails open: when the last record cannot be fetched
// (offline, error) the submission is never blocked, because
// under-suppression is safer than silently dropping a legitimate record.
type DuplicateFilter struct {
	remote remote.Client
}

// NewDuplicateFilter creates a DuplicateFilter.
func NewDuplicateFilter(r remote.Client) *DuplicateFilter {
	return &DuplicateFilter{remote: r}
}

// comparisonKey is the order-independent projection of the fields that
// make two submissions "the same checklist". Volatile fields (ids,
// timestamps, attachment URLs, the hour-meter reading) are excluded, and
// nested lists are sorted by name so ordering differences don't cause
// false negatives.
type comparisonKey struct {
	MachineID string
	Operator  string
	Notes     string
	Sections  []models.ChecklistSection
}

// IsDuplicateOfLast reports whether the candidate matches the machine's
// most recent remote record. Never returns an error and never blocks the
// submission.
func (f *DuplicateFilter) IsDuplicateOfLast(ctx context.Context, machineID string, candidate *models.ChecklistRecord) bool {
	query := url.Values{
		"machine_id": {machineID},
		"sort":       {"-created_at"},
		"limit":      {"1"},
	}

	entities, err := f.remote.List(ctx, string(models.KindRecord), query)
	if err != nil {
		logging.Debug("Duplicate check indeterminate, allowing submission",
			map[string]interface{}{"machine_id": machineID, "error": err.Error()})
		return false
	}
	if len(entities) == 0 {
		return false
	}

	var last models.ChecklistRecord
	if err := json.Unmarshal(entities[0].Data, &last); err != nil {
		logging.Warn("Failed to decode last record, allowing submission",
			map[string]interface{}{"machine_id": machineID, "error": err.Error()})
		return false
	}

	return reflect.DeepEqual(projectRecord(candidate), projectRecord(&last))
}

// projectRecord builds the comparison key for a record.
func projectRecord(rec *models.ChecklistRecord) comparisonKey {
	key := comparisonKey{
		MachineID: rec.MachineID,
		Operator:  rec.Operator,
		Notes:     rec.Notes,
		Sections:  make([]models.ChecklistSection, 0, len(rec.Sections)),
	}

	for _, section := range rec.Sections {
		items := make([]models.ChecklistItem, len(section.Items))
		copy(items, section.Items)
		sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

		key.Sections = append(key.Sections, models.ChecklistSection{
			Name:  section.Name,
			Items: items,
		})
	}

	sort.Slice(key.Sections, func(i, j int) bool { return key.Sections[i].Name < key.Sections[j].Name })

	return key
}
