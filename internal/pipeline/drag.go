package pipeline

import (
	"github.com/noah-isme/academy-crm-api/internal/models"
	appErrors "github.com/noah-isme/academy-crm-api/pkg/errors"
)

// DragPhase is the state of the drag gesture.
type DragPhase string

const (
	DragIdle     DragPhase = "idle"
	DragDragging DragPhase = "dragging"
)

// DragState is a read-only view of the controller.
type DragState struct {
	Phase  DragPhase `json:"phase"`
	LeadID string    `json:"lead_id,omitempty"`
}

// DropEvent is emitted when a dragged lead is released over a stage column.
type DropEvent struct {
	LeadID string           `json:"lead_id"`
	Target models.LeadStage `json:"target"`
}

// DragController turns pick-up and drop gestures into DropEvents:
// idle -> dragging(lead) -> dropped(target) | cancelled -> idle.
type DragController struct {
	leadID string
}

// PickUp starts dragging leadID.
func (d *DragController) PickUp(leadID string) error {
	if leadID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "lead id is required to start a drag")
	}
	if d.leadID != "" {
		return appErrors.Clone(appErrors.ErrDragInProgress, "lead "+d.leadID+" is already being dragged")
	}
	d.leadID = leadID
	return nil
}

// Dragging returns the lead being dragged.
func (d *DragController) Dragging() (string, bool) {
	return d.leadID, d.leadID != ""
}

// Drop releases the dragged lead. A nil or unknown target is a drop outside every column and
// cancels the gesture without an event. Dropping onto the lead's own column still emits; the
// move itself is a no-op downstream.
func (d *DragController) Drop(target *models.LeadStage) (DropEvent, bool, error) {
	if d.leadID == "" {
		return DropEvent{}, false, appErrors.ErrNoActiveDrag
	}
	leadID := d.leadID
	d.leadID = ""

	if target == nil || !target.Valid() {
		return DropEvent{}, false, nil
	}
	return DropEvent{LeadID: leadID, Target: *target}, true, nil
}

// Cancel abandons the gesture. It reports whether anything was being dragged.
func (d *DragController) Cancel() bool {
	was := d.leadID != ""
	d.leadID = ""
	return was
}

// State snapshots the controller.
func (d *DragController) State() DragState {
	if d.leadID == "" {
		return DragState{Phase: DragIdle}
	}
	return DragState{Phase: DragDragging, LeadID: d.leadID}
}
