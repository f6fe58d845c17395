/*
batch.go - Batch Assignment Service

PURPOSE:
  Moves eligible, completed donations into a submission batch and back
  out again, keeping the batch-name stamp on each donation and the
  donation-batch link in step.

ADD RULES (per donation):
  - already batched (stamp or link)      -> rejected
  - not eligible (IsContributionEligible) -> rejected
  - status other than Completed          -> rejected
  - otherwise link, recompute amounts, stamp the batch title

  Adding to a batch already submitted fails with ErrBatchSubmitted.
  When nothing was added the whole call is rolled back, so no empty
  batch and no stray batch-name option survive.

REMOVE RULES (per donation):
  - not in a batch          -> not removed
  - batch already submitted -> not removed (only with a SubmissionChecker)
  - otherwise unlink and clear the stamp

SEE ALSO:
  - calculator.go: amounts are refreshed at the moment of batching
*/
package giftaid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/warp/giftaid/generic"
)

// BatchResult tallies an add operation.
type BatchResult struct {
	Total    int          `json:"total"`
	Added    []DonationID `json:"added"`
	Rejected []DonationID `json:"rejected"`
}

// BatchPreview is a dry run of AddToBatch.
type BatchPreview struct {
	Total          int          `json:"total"`
	Addable        []DonationID `json:"addable"`
	AlreadyBatched []DonationID `json:"already_batched"`
	NotValid       []DonationID `json:"not_valid"`
}

// RemovalResult tallies a remove operation.
type RemovalResult struct {
	Total            int          `json:"total"`
	Removed          []DonationID `json:"removed"`
	NotRemoved       []DonationID `json:"not_removed"`
	NotInBatch       []DonationID `json:"not_in_batch"`
	AlreadySubmitted []DonationID `json:"already_submitted"`
}

// NewBatch describes a batch to create.
type NewBatch struct {
	Title       string // generated when empty
	Description string
}

// errNothingAdded rolls back a batching transaction that added nothing.
var errNothingAdded = errors.New("nothing added")

// =============================================================================
// ADD
// =============================================================================

// AddToBatch adds the donations to an existing batch.
func (s *Service) AddToBatch(ctx context.Context, ids []DonationID, batchID BatchID) (BatchResult, error) {
	if batchID == 0 {
		return BatchResult{}, &generic.ValidationError{Field: "batch_id", Message: "batch_id is required"}
	}
	var res BatchResult
	err := s.Repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		batch, err := tx.GetBatch(ctx, batchID)
		if err != nil {
			return err
		}
		if s.Submissions != nil {
			submitted, err := s.Submissions.IsSubmitted(ctx, batchID)
			if err != nil {
				return err
			}
			if submitted {
				return fmt.Errorf("batch %d: %w", batchID, generic.ErrBatchSubmitted)
			}
		}
		res, err = s.addToBatch(ctx, newOperation(tx), ids, *batch)
		if err != nil {
			return err
		}
		if len(res.Added) == 0 {
			return errNothingAdded
		}
		return nil
	})
	if errors.Is(err, errNothingAdded) {
		log.Printf("[Batch] batch %d: none of %d donations could be added, rolled back", batchID, res.Total)
		return res, nil
	}
	return res, err
}

// CreateBatch creates a batch, snapshots the settings and adds the
// donations. Returns ErrEmptyBatch (and persists nothing) when none of
// them could be added.
func (s *Service) CreateBatch(ctx context.Context, nb NewBatch, ids []DonationID) (*Batch, BatchResult, error) {
	var (
		created *Batch
		res     BatchResult
	)
	err := s.Repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		op := newOperation(tx)
		settings, err := op.settings(ctx)
		if err != nil {
			return err
		}
		if _, err := settings.TaxRate(); err != nil {
			return err
		}

		title := strings.TrimSpace(nb.Title)
		if title == "" {
			title = s.generateBatchTitle()
		}
		b := &Batch{
			Name:        TitleToName(title, 63),
			Title:       title,
			Description: nb.Description,
			BatchType:   BatchTypeGiftAid,
			CreatedAt:   s.now(),
		}
		if err := tx.CreateBatch(ctx, b); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		snap, err := settings.Snapshot(b.ID)
		if err != nil {
			return err
		}
		if err := tx.SaveBatchSettings(ctx, snap); err != nil {
			return fmt.Errorf("save batch settings: %w", err)
		}

		res, err = s.addToBatch(ctx, op, ids, *b)
		if err != nil {
			return err
		}
		if len(res.Added) == 0 {
			return generic.ErrEmptyBatch
		}
		created = b
		return nil
	})
	if errors.Is(err, generic.ErrEmptyBatch) {
		log.Printf("[Batch] new batch: none of %d donations could be added, rolled back", res.Total)
	}
	if err != nil {
		return nil, res, err
	}
	log.Printf("[Batch] created batch %d %q with %d donations", created.ID, created.Title, len(res.Added))
	return created, res, nil
}

func (s *Service) addToBatch(ctx context.Context, op *operation, ids []DonationID, batch Batch) (BatchResult, error) {
	res := BatchResult{Total: len(ids)}

	if _, err := op.repo.RegisterBatchName(ctx, batch.Title); err != nil {
		return res, fmt.Errorf("register batch name: %w", err)
	}

	for _, id := range ids {
		verdict, err := s.canAdd(ctx, op, id)
		if err != nil {
			return res, err
		}
		if verdict != addable {
			res.Rejected = append(res.Rejected, id)
			continue
		}

		if err := op.repo.LinkDonation(ctx, batch.ID, id); err != nil {
			return res, fmt.Errorf("link donation %d to batch %d: %w", id, batch.ID, err)
		}
		title := batch.Title
		if _, err := s.computeEligibility(ctx, op, id, EligibilityOptions{AddToBatch: true, BatchName: &title}); err != nil {
			return res, err
		}
		res.Added = append(res.Added, id)
	}

	if len(res.Added) > 0 && s.OnBatched != nil {
		if err := s.OnBatched(ctx, batch.ID, res.Added); err != nil {
			return res, err
		}
	}
	return res, nil
}

type addVerdict int

const (
	addable addVerdict = iota
	alreadyBatched
	notValid
)

func (s *Service) canAdd(ctx context.Context, op *operation, id DonationID) (addVerdict, error) {
	d, err := op.repo.GetDonation(ctx, id)
	if generic.IsNotFound(err) {
		return notValid, nil
	}
	if err != nil {
		return notValid, err
	}
	if d.Batched() {
		return alreadyBatched, nil
	}
	linked, err := op.repo.BatchForDonation(ctx, id)
	if err != nil {
		return notValid, err
	}
	if linked != nil {
		return alreadyBatched, nil
	}
	eligible, err := s.isContributionEligible(ctx, op, *d)
	if err != nil {
		return notValid, err
	}
	if !eligible || d.Status != DonationCompleted {
		return notValid, nil
	}
	return addable, nil
}

// ValidateForBatch previews AddToBatch without writing.
func (s *Service) ValidateForBatch(ctx context.Context, ids []DonationID) (BatchPreview, error) {
	op := newOperation(s.Repo)
	p := BatchPreview{Total: len(ids)}
	for _, id := range ids {
		v, err := s.canAdd(ctx, op, id)
		if err != nil {
			return p, err
		}
		switch v {
		case addable:
			p.Addable = append(p.Addable, id)
		case alreadyBatched:
			p.AlreadyBatched = append(p.AlreadyBatched, id)
		default:
			p.NotValid = append(p.NotValid, id)
		}
	}
	return p, nil
}

// =============================================================================
// REMOVE
// =============================================================================

// RemoveFromBatch takes the donations out of whatever batch holds them.
func (s *Service) RemoveFromBatch(ctx context.Context, ids []DonationID) (RemovalResult, error) {
	var res RemovalResult
	err := s.Repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		res, err = s.removalPlan(ctx, tx, ids)
		if err != nil {
			return err
		}
		none := ""
		for _, id := range res.Removed {
			batch, err := tx.BatchForDonation(ctx, id)
			if err != nil {
				return err
			}
			if err := tx.UnlinkDonation(ctx, batch.ID, id); err != nil {
				return fmt.Errorf("unlink donation %d from batch %d: %w", id, batch.ID, err)
			}
			if err := tx.UpdateGiftAidFields(ctx, id, GiftAidUpdate{BatchName: &none}); err != nil {
				return fmt.Errorf("clear batch name of donation %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return RemovalResult{}, err
	}
	if len(res.Removed) > 0 {
		log.Printf("[Batch] removed %d of %d donations from their batches", len(res.Removed), res.Total)
	}
	return res, nil
}

// ValidateForRemoval previews RemoveFromBatch without writing.
func (s *Service) ValidateForRemoval(ctx context.Context, ids []DonationID) (RemovalResult, error) {
	return s.removalPlan(ctx, s.Repo, ids)
}

func (s *Service) removalPlan(ctx context.Context, repo Repository, ids []DonationID) (RemovalResult, error) {
	res := RemovalResult{Total: len(ids)}
	for _, id := range ids {
		batch, err := repo.BatchForDonation(ctx, id)
		if err != nil {
			return res, err
		}
		if batch == nil {
			res.NotInBatch = append(res.NotInBatch, id)
			res.NotRemoved = append(res.NotRemoved, id)
			continue
		}
		if s.Submissions != nil {
			submitted, err := s.Submissions.IsSubmitted(ctx, batch.ID)
			if err != nil {
				return res, fmt.Errorf("check submission of batch %d: %w", batch.ID, err)
			}
			if submitted {
				res.AlreadySubmitted = append(res.AlreadySubmitted, id)
				res.NotRemoved = append(res.NotRemoved, id)
				continue
			}
		}
		res.Removed = append(res.Removed, id)
	}
	return res, nil
}

// =============================================================================
// NAMING
// =============================================================================

func (s *Service) generateBatchTitle() string {
	return fmt.Sprintf("GiftAid %s %s", s.now().Format(generic.DateLayout), uuid.NewString()[:8])
}

var nonNameChars = regexp.MustCompile(`[^a-z0-9]+`)

// TitleToName turns a batch title into a slug of at most maxLen chars.
func TitleToName(title string, maxLen int) string {
	name := nonNameChars.ReplaceAllString(strings.ToLower(title), "_")
	name = strings.Trim(name, "_")
	if len(name) > maxLen {
		name = strings.TrimRight(name[:maxLen], "_")
	}
	return name
}
