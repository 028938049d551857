package domain

import "time"

// Party identifies one side of a trade.
type Party string

const (
	PartyA Party = "partyA"
	PartyB Party = "partyB"
)

// Valid reports whether p names one of the two sides.
func (p Party) Valid() bool {
	return p == PartyA || p == PartyB
}

// Other returns the counterparty side.
func (p Party) Other() Party {
	if p == PartyA {
		return PartyB
	}
	return PartyA
}

// Status is the derived lifecycle position of a trade.
type Status string

const (
	StatusPending           Status = "pending"
	StatusPhotosRequired    Status = "photos_required"
	StatusAccepted          Status = "accepted"
	StatusShippingConfirmed Status = "shipping_confirmed"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusDisputed          Status = "disputed"
)

// Outcome records a terminal exit that is not driven by step flags.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCancelled Outcome = "cancelled"
	OutcomeDisputed  Outcome = "disputed"
)

// Step names a timeline event.
type Step string

const (
	StepCreated         Step = "created"
	StepPhotosSubmitted Step = "photos_submitted"
	StepShipmentConfirm Step = "shipping_confirmed"
	StepDeliveryConfirm Step = "delivery_confirmed"
	StepCompleted       Step = "completed"
	StepProblemReported Step = "problem_reported"
	StepReportResolved  Step = "report_resolved"
	StepCancelled       Step = "cancelled"
	StepDisputed        Step = "disputed"
)

// Non-participant actors recorded on the timeline.
const (
	ActorSystem     Party = "system"
	ActorModeration Party = "moderation"
)

// Report statuses. Moderation moves a pending report exactly once.
const (
	ReportStatusPending   = "pending"
	ReportStatusUpheld    = "upheld"
	ReportStatusDismissed = "dismissed"
)

// Participant is one side of a barter.
type Participant struct {
	UserID string   `json:"userId"`
	Items  []string `json:"items"`
}

// PartyScores is the trust score snapshot taken at creation.
type PartyScores struct {
	PartyA int `json:"partyA"`
	PartyB int `json:"partyB"`
}

// PartyFlags is a per-party step flag pair.
type PartyFlags struct {
	PartyA bool `json:"partyA"`
	PartyB bool `json:"partyB"`
}

// Get returns the flag for p.
func (f PartyFlags) Get(p Party) bool {
	if p == PartyA {
		return f.PartyA
	}
	return f.PartyB
}

// Set raises the flag for p. Flags never go back to false.
func (f *PartyFlags) Set(p Party) {
	if p == PartyA {
		f.PartyA = true
		return
	}
	f.PartyB = true
}

// Both reports whether both parties have cleared the gate.
func (f PartyFlags) Both() bool {
	return f.PartyA && f.PartyB
}

// Any reports whether at least one party has cleared the gate.
func (f PartyFlags) Any() bool {
	return f.PartyA || f.PartyB
}

// Steps holds the validation gates.
type Steps struct {
	PhotosSubmitted   PartyFlags `json:"photosSubmitted"`
	ShippingConfirmed PartyFlags `json:"shippingConfirmed"`
	DeliveryConfirmed PartyFlags `json:"deliveryConfirmed"`
}

// Proof is the evidence bundle a party supplied.
type Proof struct {
	Photos         []string  `json:"photos"`
	TrackingNumber string    `json:"trackingNumber,omitempty"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// Proofs holds each party's evidence bundle.
type Proofs struct {
	PartyA *Proof `json:"partyA,omitempty"`
	PartyB *Proof `json:"partyB,omitempty"`
}

// Get returns the bundle for p, nil when nothing was submitted.
func (p Proofs) Get(party Party) *Proof {
	if party == PartyA {
		return p.PartyA
	}
	return p.PartyB
}

// Put stores the bundle for p.
func (p *Proofs) Put(party Party, proof *Proof) {
	if party == PartyA {
		p.PartyA = proof
		return
	}
	p.PartyB = proof
}

// TimelineEntry is one audit record. Digest chains the previous entry.
type TimelineEntry struct {
	Step        Step              `json:"step"`
	ActingParty Party             `json:"actingParty"`
	Timestamp   time.Time         `json:"timestamp"`
	Data        map[string]string `json:"data,omitempty"`
	Digest      string            `json:"digest"`
}

// Report is a problem raised by a participant.
type Report struct {
	ID          string     `json:"id"`
	ReportedBy  string     `json:"reportedBy"`
	Reason      string     `json:"reason"`
	Description string     `json:"description"`
	Evidence    []string   `json:"evidence"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
	ViolationID string     `json:"violationId,omitempty"`
}

// Security is the trust block frozen at creation plus validation progress.
type Security struct {
	TrustScores PartyScores     `json:"trustScores"`
	RiskLevel   RiskLevel       `json:"riskLevel"`
	Constraints Constraints     `json:"constraints"`
	Degraded    bool            `json:"degraded,omitempty"`
	Steps       Steps           `json:"steps"`
	Proofs      Proofs          `json:"proofs"`
	Timeline    []TimelineEntry `json:"timeline"`
	Reports     []Report        `json:"reports"`
}

// Rating is the score one party gave the other.
type Rating struct {
	Score       int       `json:"score"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Ratings holds the ratings exchanged on delivery.
type Ratings struct {
	PartyAOnPartyB *Rating `json:"partyAOnPartyB,omitempty"`
	PartyBOnPartyA *Rating `json:"partyBOnPartyA,omitempty"`
}

// GivenBy returns the rating p gave to its counterparty.
func (r Ratings) GivenBy(p Party) *Rating {
	if p == PartyA {
		return r.PartyAOnPartyB
	}
	return r.PartyBOnPartyA
}

// SetGivenBy stores the rating p gave to its counterparty.
func (r *Ratings) SetGivenBy(p Party, rating *Rating) {
	if p == PartyA {
		r.PartyAOnPartyB = rating
		return
	}
	r.PartyBOnPartyA = rating
}

// Trade is the aggregate for one barter exchange.
type Trade struct {
	ID            string      `json:"id"`
	PartyA        Participant `json:"partyA"`
	PartyB        Participant `json:"partyB"`
	Security      Security    `json:"security"`
	Ratings       Ratings     `json:"ratings"`
	// StatsRecorded marks whose profile has absorbed this completed trade.
	StatsRecorded PartyFlags  `json:"statsRecorded"`
	Outcome       Outcome     `json:"outcome,omitempty"`
	OutcomeReason string      `json:"outcomeReason,omitempty"`
	Version       int64       `json:"version"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// Status projects the lifecycle position from the step flags. It is never
// stored independently of them.
func (t *Trade) Status() Status {
	switch t.Outcome {
	case OutcomeCancelled:
		return StatusCancelled
	case OutcomeDisputed:
		return StatusDisputed
	}

	steps := t.Security.Steps
	switch {
	case steps.DeliveryConfirmed.Both():
		return StatusCompleted
	case steps.ShippingConfirmed.Both():
		return StatusShippingConfirmed
	}

	if t.Security.Constraints.PhotosRequired {
		if steps.PhotosSubmitted.Both() {
			return StatusAccepted
		}
		return StatusPhotosRequired
	}
	// Without a photo gate the first shipment implies acceptance.
	if steps.ShippingConfirmed.Any() {
		return StatusAccepted
	}
	return StatusPending
}

// Terminal reports whether no further step may be applied.
func (t *Trade) Terminal() bool {
	switch t.Status() {
	case StatusCompleted, StatusCancelled, StatusDisputed:
		return true
	}
	return false
}

// PartyOf resolves a user to the side they trade on.
func (t *Trade) PartyOf(userID string) (Party, bool) {
	switch userID {
	case t.PartyA.UserID:
		return PartyA, true
	case t.PartyB.UserID:
		return PartyB, true
	}
	return "", false
}

// Participant returns the side for p.
func (t *Trade) Participant(p Party) Participant {
	if p == PartyA {
		return t.PartyA
	}
	return t.PartyB
}

// DeliveryDeadline is the point after which an external scheduler may act.
func (t *Trade) DeliveryDeadline() time.Time {
	return t.CreatedAt.AddDate(0, 0, t.Security.Constraints.MaxDeliveryDays)
}

// Clone returns a deep copy of the aggregate.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	out := *t
	out.PartyA.Items = cloneStrings(t.PartyA.Items)
	out.PartyB.Items = cloneStrings(t.PartyB.Items)
	out.Security.Proofs = Proofs{
		PartyA: cloneProof(t.Security.Proofs.PartyA),
		PartyB: cloneProof(t.Security.Proofs.PartyB),
	}
	if t.Security.Timeline != nil {
		out.Security.Timeline = make([]TimelineEntry, len(t.Security.Timeline))
		for i, e := range t.Security.Timeline {
			e.Data = cloneData(e.Data)
			out.Security.Timeline[i] = e
		}
	}
	if t.Security.Reports != nil {
		out.Security.Reports = make([]Report, len(t.Security.Reports))
		for i, r := range t.Security.Reports {
			r.Evidence = cloneStrings(r.Evidence)
			if r.ResolvedAt != nil {
				ts := *r.ResolvedAt
				r.ResolvedAt = &ts
			}
			out.Security.Reports[i] = r
		}
	}
	out.Ratings = Ratings{
		PartyAOnPartyB: cloneRating(t.Ratings.PartyAOnPartyB),
		PartyBOnPartyA: cloneRating(t.Ratings.PartyBOnPartyA),
	}
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneProof(p *Proof) *Proof {
	if p == nil {
		return nil
	}
	out := *p
	out.Photos = cloneStrings(p.Photos)
	return &out
}

func cloneRating(r *Rating) *Rating {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

func cloneData(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
