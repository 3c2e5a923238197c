// Package draft holds the lifecycle rules for product card drafts.
package draft

import (
	"fmt"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/common"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
)

var transitions = map[constants.DraftStatus][]constants.DraftStatus{
	constants.DraftStatusNew:            {constants.DraftStatusProcessing, constants.DraftStatusError},
	constants.DraftStatusProcessing:     {constants.DraftStatusReadyForReview, constants.DraftStatusError},
	constants.DraftStatusReadyForReview: {constants.DraftStatusSynced},
}

// CanTransition reports whether the lifecycle graph has an edge from -> to.
// Self loops are not transitions.
func CanTransition(from, to constants.DraftStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanEdit reports whether final_data may be patched in s.
func CanEdit(s constants.DraftStatus) bool {
	return s == constants.DraftStatusProcessing || s == constants.DraftStatusReadyForReview
}

// CanGenerateName reports whether a name may be generated in s.
func CanGenerateName(s constants.DraftStatus) bool {
	return s == constants.DraftStatusReadyForReview
}

// CanCommit reports whether s may be pushed to the catalog.
func CanCommit(s constants.DraftStatus) bool {
	return s == constants.DraftStatusReadyForReview
}

// Transition moves d to "to", enforcing the graph and the erp_ref_key rule.
// erpRefKey is required when entering synced and ignored otherwise.
func Transition(d *entity.Draft, to constants.DraftStatus, erpRefKey string) error {
	if !CanTransition(d.Status, to) {
		return common.NewConflictError(
			fmt.Sprintf("cannot move draft from %s to %s", d.Status, to), string(d.Status))
	}
	if to == constants.DraftStatusSynced {
		if erpRefKey == "" {
			return common.NewValidationError("erp_ref_key is required to sync a draft")
		}
		d.ERPRefKey = &erpRefKey
	}
	d.Status = to
	return nil
}

// Fail moves d into error with a reason, if the graph allows it.
func Fail(d *entity.Draft, reason string) error {
	if err := Transition(d, constants.DraftStatusError, ""); err != nil {
		return err
	}
	d.ErrorMessage = &reason
	return nil
}

// CheckInvariants validates the structural rules every stored draft obeys.
func CheckInvariants(d *entity.Draft) error {
	synced := d.Status == constants.DraftStatusSynced
	hasRef := d.ERPRefKey != nil && *d.ERPRefKey != ""
	if synced != hasRef {
		return fmt.Errorf("draft %s: erp_ref_key present=%t but status=%s", d.ID, hasRef, d.Status)
	}
	if _, ok := constants.ParseDraftStatus(string(d.Status)); !ok {
		return fmt.Errorf("draft %s: unknown status %q", d.ID, d.Status)
	}
	return nil
}

// RequireEditable returns a conflict carrying the current status when d is frozen.
func RequireEditable(d *entity.Draft) error {
	if !CanEdit(d.Status) {
		return common.NewConflictError(
			fmt.Sprintf("draft is %s; final_data can only change while processing or ready_for_review", d.Status),
			string(d.Status))
	}
	return nil
}
