package trade

import (
	"fmt"
	"strings"

	"github.com/vanshika/swapguard/internal/domain"
)

const (
	maxItemsPerSide      = 20
	maxPhotosPerProof    = 12
	maxEvidencePerReport = 12
	maxCommentLength     = 1000
	maxDescriptionLength = 2000
	maxReasonLength      = 200
)

// CreateInput opens a trade between two participants.
type CreateInput struct {
	PartyA domain.Participant `json:"partyA"`
	PartyB domain.Participant `json:"partyB"`
}

// PhotosInput is a party's proof bundle.
type PhotosInput struct {
	UserID         string   `json:"userId"`
	Photos         []string `json:"photos"`
	TrackingNumber string   `json:"trackingNumber,omitempty"`
}

// ShipmentInput marks a party's item as sent.
type ShipmentInput struct {
	UserID         string `json:"userId"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
}

// DeliveryInput confirms receipt and rates the counterparty.
type DeliveryInput struct {
	UserID  string `json:"userId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment,omitempty"`
}

// ReportInput raises a problem on a trade.
type ReportInput struct {
	UserID      string   `json:"userId"`
	Reason      string   `json:"reason"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
}

// CancelInput withdraws a participant from a trade before shipment.
type CancelInput struct {
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

// DisputeInput is the moderation force-transition to disputed.
type DisputeInput struct {
	Reason string `json:"reason"`
}

// ResolveInput is the moderation verdict on a pending report. Kind, when
// set on an upheld report, records a violation against the reported party.
type ResolveInput struct {
	Outcome string               `json:"outcome"`
	Kind    domain.ViolationKind `json:"violationKind,omitempty"`
}

func (in CreateInput) validate() error {
	a, b := strings.TrimSpace(in.PartyA.UserID), strings.TrimSpace(in.PartyB.UserID)
	if a == "" || b == "" {
		return domain.NewValidationError("missing_participant", "userId", "both participants are required")
	}
	if a == b {
		return domain.NewValidationError("self_trade", "partyB.userId", "a user cannot trade with themselves")
	}
	seen := make(map[string]string)
	for side, items := range map[string][]string{"partyA": in.PartyA.Items, "partyB": in.PartyB.Items} {
		if len(items) == 0 {
			return domain.NewValidationError("missing_items", side+".items", "each participant must offer at least one item")
		}
		if len(items) > maxItemsPerSide {
			return domain.NewValidationError("too_many_items", side+".items", fmt.Sprintf("at most %d items per side", maxItemsPerSide))
		}
		for _, item := range items {
			if strings.TrimSpace(item) == "" {
				return domain.NewValidationError("blank_item", side+".items", "item references must not be blank")
			}
			if other, dup := seen[item]; dup && other != side {
				return domain.NewValidationError("shared_item", side+".items", fmt.Sprintf("item %s is offered by both sides", item))
			}
			seen[item] = side
		}
	}
	return nil
}

func (in PhotosInput) validate() error {
	if len(in.Photos) == 0 {
		return domain.NewValidationError("missing_photos", "photos", "at least one photo is required")
	}
	if len(in.Photos) > maxPhotosPerProof {
		return domain.NewValidationError("too_many_photos", "photos", fmt.Sprintf("at most %d photos", maxPhotosPerProof))
	}
	return validateRefs("photos", in.Photos)
}

func (in DeliveryInput) validate() error {
	if in.Rating < 1 || in.Rating > 5 {
		return domain.NewValidationError("invalid_rating", "rating", "rating must be between 1 and 5")
	}
	if len(in.Comment) > maxCommentLength {
		return domain.NewValidationError("comment_too_long", "comment", fmt.Sprintf("comment exceeds %d characters", maxCommentLength))
	}
	return nil
}

func (in ReportInput) validate() error {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return domain.NewValidationError("missing_reason", "reason", "a reason is required")
	}
	if len(reason) > maxReasonLength {
		return domain.NewValidationError("reason_too_long", "reason", fmt.Sprintf("reason exceeds %d characters", maxReasonLength))
	}
	if len(in.Description) > maxDescriptionLength {
		return domain.NewValidationError("description_too_long", "description", fmt.Sprintf("description exceeds %d characters", maxDescriptionLength))
	}
	if len(in.Evidence) > maxEvidencePerReport {
		return domain.NewValidationError("too_much_evidence", "evidence", fmt.Sprintf("at most %d evidence references", maxEvidencePerReport))
	}
	return validateRefs("evidence", in.Evidence)
}

func (in ResolveInput) validate() error {
	switch in.Outcome {
	case domain.ReportStatusUpheld, domain.ReportStatusDismissed:
	default:
		return domain.NewValidationError("invalid_outcome", "outcome", "outcome must be upheld or dismissed")
	}
	if in.Kind != "" && !in.Kind.Valid() {
		return domain.NewValidationError("unknown_violation_kind", "violationKind", fmt.Sprintf("unknown violation kind %q", in.Kind))
	}
	if in.Kind != "" && in.Outcome == domain.ReportStatusDismissed {
		return domain.NewValidationError("kind_on_dismissal", "violationKind", "a dismissed report cannot carry a violation")
	}
	return nil
}

func validateRefs(field string, refs []string) error {
	for _, ref := range refs {
		if strings.TrimSpace(ref) == "" {
			return domain.NewValidationError("blank_reference", field, "blob references must not be blank")
		}
	}
	return nil
}

func cleanRefs(refs []string) []string {
	if len(refs) == 0 {
		return nil
	}
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = strings.TrimSpace(r)
	}
	return out
}
