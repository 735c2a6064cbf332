package services

import (
	"context"
	"errors"
	"testing"

	"iam/internal/models"
	apperrors "iam/pkg/errors"
)

type recordingLookup struct {
	taken   map[string]bool
	checked []string
	err     error
}

func (l *recordingLookup) ExistsByKeyExcluding(ctx context.Context, scope *int64, value string, excludeID int64) (bool, error) {
	l.checked = append(l.checked, value)
	return l.taken[value], l.err
}

func TestUniquenessCheckOrder(t *testing.T) {
	tests := []struct {
		name      string
		taken     map[string]bool
		field     string
		checked   int
		wantValue string
	}{
		{"none taken", nil, "", 3, ""},
		{"account first", map[string]bool{"acc": true, "555": true}, apperrors.FieldAccount, 1, "acc"},
		{"mobile second", map[string]bool{"555": true, "a@x.com": true}, apperrors.FieldMobile, 2, "555"},
		{"email last", map[string]bool{"a@x.com": true}, apperrors.FieldEmail, 3, "a@x.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &recordingLookup{taken: tt.taken}
			err := UniquenessChecker{}.Check(context.Background(), lookup, nil, models.NoExclusion, "acc", "555", "a@x.com")

			if len(lookup.checked) != tt.checked {
				t.Fatalf("checked %v, want %d lookups", lookup.checked, tt.checked)
			}
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var dup *apperrors.DuplicateIdentityError
			if !errors.As(err, &dup) || dup.Field != tt.field || dup.Value != tt.wantValue {
				t.Fatalf("err = %v, want duplicate %s=%s", err, tt.field, tt.wantValue)
			}
		})
	}
}

func TestUniquenessBlankValuesNeverConflict(t *testing.T) {
	lookup := &recordingLookup{taken: map[string]bool{"": true}}
	if err := (UniquenessChecker{}).Check(context.Background(), lookup, nil, 7, "", "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lookup.checked) != 0 {
		t.Fatalf("blank values should not be looked up, got %v", lookup.checked)
	}
}

func TestUniquenessPropagatesStoreError(t *testing.T) {
	boom := errors.New("db down")
	lookup := &recordingLookup{err: boom}
	err := UniquenessChecker{}.Check(context.Background(), lookup, nil, 0, "acc", "", "")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if apperrors.IsDuplicateIdentity(err) {
		t.Fatalf("store errors must not be reported as duplicates")
	}
}
