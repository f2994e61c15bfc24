// Package campaign is campaign administration: create, edit, list, delete
// and duplicate. Sending lives in the dispatch package.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"newsletter/internal/domain"
	"newsletter/internal/store"
	"newsletter/internal/util"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Store interface {
	InsertCampaign(ctx context.Context, c domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (domain.Campaign, bool, error)
	ListCampaigns(ctx context.Context, f store.CampaignFilter) ([]domain.Campaign, int, error)
	UpdateCampaign(ctx context.Context, in store.CampaignUpdate) (bool, error)
	DeleteCampaign(ctx context.Context, id string) (bool, error)
}

// Input is the editable part of a campaign. A non-nil ScheduledFor makes the
// campaign scheduled; nil keeps it a draft.
type Input struct {
	Subject      string     `json:"subject" validate:"required,max=255"`
	Content      string     `json:"content" validate:"required"`
	ScheduledFor *time.Time `json:"scheduledFor,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

type Page struct {
	Data       []domain.Campaign `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

type Service struct {
	store    Store
	validate *validator.Validate
	Now      func() time.Time
	NewID    func() string
}

func NewService(st Store) *Service {
	return &Service{store: st, validate: validator.New(), Now: util.NowUTC, NewID: util.NewCampaignID}
}

func (s *Service) check(in Input) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s failed %s", domain.ErrInvalidCampaign, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidCampaign, err)
	}
	return nil
}

func statusFor(in Input) domain.CampaignStatus {
	if in.ScheduledFor != nil {
		return domain.StatusScheduled
	}
	return domain.StatusDraft
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Service) Create(ctx context.Context, in Input) (domain.Campaign, error) {
	if err := s.check(in); err != nil {
		return domain.Campaign{}, err
	}
	now := s.Now()
	c := domain.Campaign{
		ID:           s.NewID(),
		Subject:      in.Subject,
		Content:      in.Content,
		Status:       statusFor(in),
		ScheduledFor: utcPtr(in.ScheduledFor),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.InsertCampaign(ctx, c); err != nil {
		return domain.Campaign{}, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Campaign, error) {
	c, found, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if !found {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	return c, nil
}

// List pages through campaigns, newest first. An empty status lists all.
func (s *Service) List(ctx context.Context, status string, page, pageSize int) (Page, error) {
	var filter store.CampaignFilter
	if status != "" {
		st, err := domain.ParseCampaignStatus(status)
		if err != nil {
			return Page{}, err
		}
		filter.Status = st
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	list, total, err := s.store.ListCampaigns(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	if list == nil {
		list = []domain.Campaign{}
	}
	return Page{
		Data: list,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
	}, nil
}

// Update replaces subject, content and schedule of a draft or scheduled
// campaign. Setting or clearing the schedule moves it between the two.
func (s *Service) Update(ctx context.Context, id string, in Input) (domain.Campaign, error) {
	if err := s.check(in); err != nil {
		return domain.Campaign{}, err
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	if !c.Status.Editable() {
		return domain.Campaign{}, domain.ErrCampaignLocked
	}
	next := statusFor(in)
	if next != c.Status {
		if _, err := c.Status.Transition(next); err != nil {
			return domain.Campaign{}, err
		}
	}

	now := s.Now()
	ok, err := s.store.UpdateCampaign(ctx, store.CampaignUpdate{
		ID:           id,
		Subject:      in.Subject,
		Content:      in.Content,
		Status:       next,
		ScheduledFor: utcPtr(in.ScheduledFor),
		Now:          now,
	})
	if err != nil {
		return domain.Campaign{}, err
	}
	if !ok {
		// a dispatch claimed it, or it was deleted, since the read above
		return domain.Campaign{}, s.missingOrLocked(ctx, id)
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.store.DeleteCampaign(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return s.missingOrLocked(ctx, id)
	}
	return nil
}

// Duplicate copies any campaign into a new draft.
func (s *Service) Duplicate(ctx context.Context, id string) (domain.Campaign, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return domain.Campaign{}, err
	}
	return s.Create(ctx, Input{Subject: src.Subject + " (copy)", Content: src.Content})
}

func (s *Service) missingOrLocked(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return domain.ErrCampaignLocked
}
