package workflow

// InstanceStatus is the overall status of an approval instance.
type InstanceStatus string

const (
	InstanceNotSubmitted InstanceStatus = "not_submitted"
	InstancePending      InstanceStatus = "pending"
	InstanceApproved     InstanceStatus = "approved"
	InstanceRejected     InstanceStatus = "rejected"
)

// Terminal reports whether the instance can no longer be mutated.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceApproved || s == InstanceRejected
}

// StageStatus is the status of a single stage record.
type StageStatus string

const (
	StageWaiting  StageStatus = "waiting"
	StageActive   StageStatus = "active"
	StageApproved StageStatus = "approved"
	StageRejected StageStatus = "rejected"
	StageSkipped  StageStatus = "skipped"
)

// Terminal reports whether the stage has reached a per-stage terminal status.
func (s StageStatus) Terminal() bool {
	return s == StageApproved || s == StageRejected || s == StageSkipped
}

// Decision is the action an approver takes on an active stage.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Valid reports whether the decision is one of the two accepted values.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// StageView is the minimal stage projection the aggregator needs.
type StageView struct {
	Status   StageStatus
	Required bool
}

// ComputeStatus derives the instance status from its stage records:
//
//   - no records: not_submitted
//   - any rejected stage: rejected
//   - every required stage approved or skipped and no stage still
//     active/waiting: approved
//   - otherwise: pending
//
// The "no stage still active/waiting" clause keeps the derived status in
// agreement with the stored one when trailing optional stages are still in
// flight. Deterministic; callers may use it to cross-check the stored field.
func ComputeStatus(stages []StageView) InstanceStatus {
	if len(stages) == 0 {
		return InstanceNotSubmitted
	}

	open := false
	requiredDone := true
	for _, st := range stages {
		switch st.Status {
		case StageRejected:
			return InstanceRejected
		case StageActive, StageWaiting:
			open = true
		}
		if st.Required && st.Status != StageApproved && st.Status != StageSkipped {
			requiredDone = false
		}
	}

	if requiredDone && !open {
		return InstanceApproved
	}
	return InstancePending
}
