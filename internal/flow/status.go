package flow

// Status is an operation-specific lifecycle state. Every flow starts in
// StatusInitiated and ends in StatusComplete or StatusFailed; no other
// terminal states exist.
type Status string

const (
	StatusInitiated      Status = "initiated"
	StatusAwaitingWallet Status = "awaiting_wallet"
	// Registration: commit transaction sent, awaiting confirmation.
	StatusStep1Pending Status = "step1_pending"
	// Registration: commit confirmed, mandatory wait running.
	StatusStep1Complete Status = "step1_complete"
	// Registration: wait elapsed and gas re-estimated, awaiting the user's
	// final confirmation.
	StatusReadyToRegister Status = "ready_to_register"
	// Registration: register transaction sent.
	StatusStep2Pending Status = "step2_pending"
	// Subdomain multi-step bookkeeping.
	StatusStep2Complete Status = "step2_complete"
	StatusStep3Pending  Status = "step3_pending"
	// Bridge: quote obtained and bridge transaction sent.
	StatusAwaitingBridge Status = "awaiting_bridge"
	// Single-step flows: transaction handed to the signing surface.
	StatusAwaitingSignature Status = "awaiting_signature"
	StatusComplete          Status = "complete"
	StatusFailed            Status = "failed"
)

// IsTerminal reports whether no further transition is legal.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// transitions lists the legal successors per type. Any non-terminal status may
// additionally move to StatusFailed on rejection or validation error.
var transitions = map[Type]map[Status][]Status{
	TypeRegistration: {
		StatusInitiated:       {StatusAwaitingWallet, StatusStep1Pending},
		StatusAwaitingWallet:  {StatusStep1Pending},
		StatusStep1Pending:    {StatusStep1Complete},
		StatusStep1Complete:   {StatusReadyToRegister},
		StatusReadyToRegister: {StatusStep2Pending},
		StatusStep2Pending:    {StatusComplete},
	},
	TypeBridge: {
		StatusInitiated:      {StatusAwaitingBridge},
		StatusAwaitingBridge: {StatusComplete},
	},
	TypeSubdomain: {
		StatusInitiated:     {StatusStep1Pending},
		StatusStep1Pending:  {StatusStep1Complete},
		StatusStep1Complete: {StatusStep2Pending},
		StatusStep2Pending:  {StatusStep2Complete, StatusComplete},
		StatusStep2Complete: {StatusStep3Pending},
		StatusStep3Pending:  {StatusComplete},
	},
	TypeTransfer: {
		StatusInitiated:         {StatusAwaitingSignature},
		StatusAwaitingSignature: {StatusComplete},
	},
	TypeRenewal: {
		StatusInitiated:         {StatusAwaitingSignature},
		StatusAwaitingSignature: {StatusComplete},
	},
}

// CanTransition reports whether moving from current to next is legal for the
// given flow type.
func CanTransition(typ Type, current, next Status) bool {
	if current.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	for _, allowed := range transitions[typ][current] {
		if allowed == next {
			return true
		}
	}
	return false
}
