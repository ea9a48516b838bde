package sync

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	apperrors "github.com/timberline/fleetsync/internal/errors"
	"github.com/timberline/fleetsync/internal/models"
	"github.com/timberline/fleetsync/internal/remote"
)

func baseRecord() *models.ChecklistRecord {
	return &models.ChecklistRecord{
		MachineID: "m-7",
		Operator:  "j.kowalski",
		Hours:     1410,
		Notes:     "left track tension low",
		Sections: []models.ChecklistSection{
			{
				Name: "brakes",
				Items: []models.ChecklistItem{
					{Name: "parking brake", Status: models.ItemOK},
					{Name: "service brake", Status: models.ItemOK},
				},
			},
			{
				Name: "fluids",
				Items: []models.ChecklistItem{
					{Name: "hydraulic oil", Status: models.ItemDefect, Note: "weeping fitting"},
				},
			},
		},
	}
}

// remoteWithLast wires a fake remote whose record listing returns the
// given record as the machine's most recent submission.
func remoteWithLast(t *testing.T, rec *models.ChecklistRecord) *fakeRemote {
	t.Helper()

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}

	return &fakeRemote{
		listFn: func(kind string, query url.Values) ([]remote.Entity, error) {
			if query.Get("machine_id") != rec.MachineID {
				t.Errorf("Expected machine filter %s, got %s", rec.MachineID, query.Get("machine_id"))
			}
			return []remote.Entity{{ID: "rec-last", Data: data}}, nil
		},
	}
}

func TestDuplicateDetectedForIdenticalSubmission(t *testing.T) {
	last := baseRecord()
	filter := NewDuplicateFilter(remoteWithLast(t, last))

	if !filter.IsDuplicateOfLast(context.Background(), "m-7", baseRecord()) {
		t.Error("Identical submission should be a duplicate")
	}
}

func TestDuplicateIgnoresSectionAndItemOrder(t *testing.T) {
	last := baseRecord()
	filter := NewDuplicateFilter(remoteWithLast(t, last))

	candidate := baseRecord()
	// Reverse section order and item order within a section.
	candidate.Sections[0], candidate.Sections[1] = candidate.Sections[1], candidate.Sections[0]
	brakes := candidate.Sections[1]
	brakes.Items[0], brakes.Items[1] = brakes.Items[1], brakes.Items[0]

	if !filter.IsDuplicateOfLast(context.Background(), "m-7", candidate) {
		t.Error("Reordered lists should not defeat duplicate detection")
	}
}

func TestDuplicateIgnoresVolatileFields(t *testing.T) {
	last := baseRecord()
	last.ID = "rec-999"
	last.PhotoURL = "https://cdn.example.com/old.jpg"
	last.CreatedAt = 1700000000
	last.Hours = 1400
	filter := NewDuplicateFilter(remoteWithLast(t, last))

	candidate := baseRecord()
	candidate.PhotoURL = "https://cdn.example.com/new.jpg"
	candidate.Hours = 1415 // hour meter moved on, same checklist

	if !filter.IsDuplicateOfLast(context.Background(), "m-7", candidate) {
		t.Error("Volatile fields (photo URL, hours, ids) should be excluded from comparison")
	}
}

func TestDifferentStatusIsNotDuplicate(t *testing.T) {
	last := baseRecord()
	filter := NewDuplicateFilter(remoteWithLast(t, last))

	candidate := baseRecord()
	candidate.Sections[0].Items[0].Status = models.ItemDefect

	if filter.IsDuplicateOfLast(context.Background(), "m-7", candidate) {
		t.Error("A changed item status must produce a new record")
	}
}

func TestDifferentNotesIsNotDuplicate(t *testing.T) {
	last := baseRecord()
	filter := NewDuplicateFilter(remoteWithLast(t, last))

	candidate := baseRecord()
	candidate.Notes = "track tension corrected"

	if filter.IsDuplicateOfLast(context.Background(), "m-7", candidate) {
		t.Error("Changed notes must produce a new record")
	}
}

func TestFetchFailureFailsOpen(t *testing.T) {
	fake := &fakeRemote{
		listFn: func(kind string, query url.Values) ([]remote.Entity, error) {
			return nil, apperrors.New(apperrors.ErrNetwork, "offline")
		},
	}
	filter := NewDuplicateFilter(fake)

	if filter.IsDuplicateOfLast(context.Background(), "m-7", baseRecord()) {
		t.Error("Indeterminate check must allow the submission")
	}
}

func TestNoPriorRecordIsNotDuplicate(t *testing.T) {
	filter := NewDuplicateFilter(&fakeRemote{})

	if filter.IsDuplicateOfLast(context.Background(), "m-7", baseRecord()) {
		t.Error("First submission for a machine is never a duplicate")
	}
}

func TestUndecodableLastRecordFailsOpen(t *testing.T) {
	fake := &fakeRemote{
		listFn: func(kind string, query url.Values) ([]remote.Entity, error) {
			return []remote.Entity{{ID: "bad", Data: json.RawMessage(`{"sections": "not-a-list"}`)}}, nil
		},
	}
	filter := NewDuplicateFilter(fake)

	if filter.IsDuplicateOfLast(context.Background(), "m-7", baseRecord()) {
		t.Error("Undecodable last record must fail open")
	}
}
