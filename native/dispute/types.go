package dispute

import (
	"fmt"
	"math/big"
)

// SchemaVersion is persisted with every dispute record.
const SchemaVersion uint32 = 1

// Status tracks the dispute lifecycle.
type Status uint8

const (
	// StatusOpen accepts responses and settlement proposals.
	StatusOpen Status = iota
	// StatusResolved is terminal; the outcome field says how it settled.
	StatusResolved
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusResolved
}

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusResolved:
		return "resolved"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Outcome records which path settled the dispute.
type Outcome uint8

const (
	// OutcomeNone marks disputes still in flight.
	OutcomeNone Outcome = iota
	// OutcomeAgreement marks matching proposals from both parties.
	OutcomeAgreement
	// OutcomeArbitration marks a binding arbitrator ruling.
	OutcomeArbitration
	// OutcomeTimeout marks the fallback split applied at the deadline.
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeAgreement:
		return "agreement"
	case OutcomeArbitration:
		return "arbitration"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Proposal is one party's suggested split of the value held by the disputed
// escrow.
type Proposal struct {
	ToRecipient *big.Int
	ToDepositor *big.Int
	ProposedAt  int64
}

func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	if p.ToRecipient != nil {
		clone.ToRecipient = new(big.Int).Set(p.ToRecipient)
	}
	if p.ToDepositor != nil {
		clone.ToDepositor = new(big.Int).Set(p.ToDepositor)
	}
	return &clone
}

// Equal reports whether two proposals describe the same split.
func (p *Proposal) Equal(other *Proposal) bool {
	if p == nil || other == nil {
		return false
	}
	if p.ToRecipient == nil || other.ToRecipient == nil ||
		p.ToDepositor == nil || other.ToDepositor == nil {
		return false
	}
	return p.ToRecipient.Cmp(other.ToRecipient) == 0 && p.ToDepositor.Cmp(other.ToDepositor) == 0
}

// Dispute is the persistent record of one contested escrow. At most one
// dispute exists per escrow; its identifier derives from the escrow.
type Dispute struct {
	ID            [32]byte
	SchemaVersion uint32
	EscrowID      [32]byte
	WorkOrderID   [32]byte

	Filer      [20]byte
	Respondent [20]byte

	// Evidence references are opaque content pointers supplied by the
	// parties. The engine stores them but never fetches or interprets
	// their contents.
	Reason          string
	Evidence        []string
	Response        string
	CounterEvidence []string
	Responded       bool

	// Proposals keyed by role: the filer's and the respondent's latest.
	FilerProposal      *Proposal
	RespondentProposal *Proposal

	OpenedAt       int64
	AgreementUntil int64
	Deadline       int64

	Status     Status
	Outcome    Outcome
	ResolvedAt int64
	// Final split applied to the escrow's held value.
	AwardRecipient *big.Int
	AwardDepositor *big.Int
}

func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	if len(d.Evidence) > 0 {
		clone.Evidence = append([]string(nil), d.Evidence...)
	}
	if len(d.CounterEvidence) > 0 {
		clone.CounterEvidence = append([]string(nil), d.CounterEvidence...)
	}
	clone.FilerProposal = d.FilerProposal.Clone()
	clone.RespondentProposal = d.RespondentProposal.Clone()
	if d.AwardRecipient != nil {
		clone.AwardRecipient = new(big.Int).Set(d.AwardRecipient)
	}
	if d.AwardDepositor != nil {
		clone.AwardDepositor = new(big.Int).Set(d.AwardDepositor)
	}
	return &clone
}

// Party reports whether the address is the filer or the respondent.
func (d *Dispute) Party(addr [20]byte) bool {
	if d == nil {
		return false
	}
	return addr == d.Filer || addr == d.Respondent
}

// ProposalFor returns the latest proposal from the given party, or nil.
func (d *Dispute) ProposalFor(addr [20]byte) *Proposal {
	if d == nil {
		return nil
	}
	switch addr {
	case d.Filer:
		return d.FilerProposal
	case d.Respondent:
		return d.RespondentProposal
	default:
		return nil
	}
}
