package shortener

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/linkgrove/linkgrove/internal/errx"
	"github.com/linkgrove/linkgrove/keygen"
)

const (
	MaxURLLength   = 2048
	MaxTitleLength = 255

	DefaultMinGroupURLs = 2
	DefaultIDRetries    = 3
)

// CreateLinkRequest represents the parameters for shortening a single URL.
type CreateLinkRequest struct {
	URL string
}

// CreateGroupRequest represents the parameters for creating a link group.
type CreateGroupRequest struct {
	Title string // optional; defaults to DefaultGroupTitle
	URLs  []string
}

// GroupDetail is a group together with its live child links.
type GroupDetail struct {
	Group    Group
	Children []Link
}

// Service defines the link and group resolution operations.
type Service interface {
	CreateLink(ctx context.Context, req CreateLinkRequest) (Link, error)
	CreateGroup(ctx context.Context, req CreateGroupRequest) (GroupDetail, error)
	GetLink(ctx context.Context, id string) (Link, error)
	GetGroup(ctx context.Context, id string) (GroupDetail, error)
	DeleteLink(ctx context.Context, id string) error
}

// service implements the Service interface. It is stateless; all
// coordination state lives in the store, so it is safe for arbitrary
// request-level parallelism.
type service struct {
	repo         Repository
	keys         keygen.Generator
	minGroupURLs int
	idRetries    int
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	KeyGenerator keygen.Generator
	MinGroupURLs int // minimum URLs per group (default: 2)
	IDRetries    int // attempts when a generated identifier collides (default: 3)
}

// NewService creates a new service instance.
func NewService(repo Repository, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{}
	}

	keys := config.KeyGenerator
	if keys == nil {
		keys = keygen.NewBase62()
	}

	minURLs := config.MinGroupURLs
	if minURLs <= 0 {
		minURLs = DefaultMinGroupURLs
	}

	retries := config.IDRetries
	if retries <= 0 {
		retries = DefaultIDRetries
	}

	return &service{
		repo:         repo,
		keys:         keys,
		minGroupURLs: minURLs,
		idRetries:    retries,
	}
}

// CreateLink shortens a URL idempotently: an existing ungrouped link for the
// same URL is touched (live) or restored (dead) instead of duplicated, so
// repeated calls return the same id. Links owned by a group are never reused
// here; such URLs get a fresh standalone link.
func (s *service) CreateLink(ctx context.Context, req CreateLinkRequest) (Link, error) {
	const op = "shortener.service.CreateLink"

	if err := validateURL(req.URL); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	// Conflicts here are either an id collision (regenerate and retry) or
	// a concurrent creator winning the URL race (the next lookup finds the
	// winner's row and reuses it). Both resolve by re-running the attempt.
	for range s.idRetries {
		link, err := s.resolveStandalone(ctx, req.URL)
		if err == nil {
			return link, nil
		}

		switch errx.KindOf(err) {
		case errx.Conflict, errx.NotFound:
			continue
		default:
			return Link{}, errx.E(op, errx.KindOf(err), err)
		}
	}

	return Link{}, errx.E(op, errx.Unavailable,
		errors.New("could not resolve link after retries"))
}

// resolveStandalone performs one attempt of the standalone create flow.
func (s *service) resolveStandalone(ctx context.Context, rawURL string) (Link, error) {
	existing, err := s.repo.FindUngroupedLinkByURL(ctx, rawURL, true)
	if err != nil {
		if errx.KindOf(err) != errx.NotFound {
			return Link{}, err
		}

		id, err := s.newID()
		if err != nil {
			return Link{}, err
		}
		return s.repo.InsertLink(ctx, id, rawURL, nil)
	}

	if existing.Deleted() {
		return s.repo.RestoreLink(ctx, existing.ID, nil)
	}
	return s.repo.TouchLink(ctx, existing.ID)
}

// CreateGroup creates a group and resolves each URL into a child link,
// inside one transaction: either the group and all children commit, or
// nothing does. Only ungrouped links are reused, so a link bound to another
// group is never hijacked.
func (s *service) CreateGroup(ctx context.Context, req CreateGroupRequest) (GroupDetail, error) {
	const op = "shortener.service.CreateGroup"

	if len(req.URLs) < s.minGroupURLs {
		return GroupDetail{}, errx.E(op, errx.Invalid,
			fmt.Errorf("a group needs at least %d urls, got %d", s.minGroupURLs, len(req.URLs)))
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = DefaultGroupTitle
	}
	if len(title) > MaxTitleLength {
		return GroupDetail{}, errx.E(op, errx.Invalid,
			fmt.Errorf("title too long (max %d characters)", MaxTitleLength))
	}

	// All URLs are validated before any write begins.
	seen := make(map[string]struct{}, len(req.URLs))
	for _, u := range req.URLs {
		if err := validateURL(u); err != nil {
			return GroupDetail{}, errx.E(op, errx.Invalid, err)
		}
		if _, dup := seen[u]; dup {
			return GroupDetail{}, errx.E(op, errx.Invalid,
				fmt.Errorf("duplicate url in group: %s", u))
		}
		seen[u] = struct{}{}
	}

	// A conflict aborts the whole transaction, so the retry re-runs it from
	// the top with fresh identifiers.
	for range s.idRetries {
		detail, err := s.createGroupOnce(ctx, title, req.URLs)
		if err == nil {
			return detail, nil
		}

		if errx.KindOf(err) == errx.Conflict {
			continue
		}
		return GroupDetail{}, errx.E(op, errx.KindOf(err), err)
	}

	return GroupDetail{}, errx.E(op, errx.Unavailable,
		errors.New("could not create group after retries"))
}

// createGroupOnce performs one transactional attempt of the group create flow.
func (s *service) createGroupOnce(ctx context.Context, title string, urls []string) (GroupDetail, error) {
	groupID, err := s.newID()
	if err != nil {
		return GroupDetail{}, err
	}
	token, err := s.newToken()
	if err != nil {
		return GroupDetail{}, err
	}

	var detail GroupDetail
	err = s.repo.InTx(ctx, func(tx Repository) error {
		group, err := tx.InsertGroup(ctx, groupID, token, title)
		if err != nil {
			return err
		}

		children := make([]Link, 0, len(urls))
		for _, u := range urls {
			child, err := s.resolveForGroup(ctx, tx, u, group.ID)
			if err != nil {
				return err
			}
			children = append(children, child)
		}

		detail = GroupDetail{Group: group, Children: children}
		return nil
	})
	if err != nil {
		return GroupDetail{}, err
	}
	return detail, nil
}

// resolveForGroup resolves one child URL within a group-creation
// transaction: reuse an ungrouped live link, restore-and-bind a dead one,
// or insert a fresh link pre-bound to the group.
func (s *service) resolveForGroup(ctx context.Context, tx Repository, rawURL, groupID string) (Link, error) {
	existing, err := tx.FindUngroupedLinkByURL(ctx, rawURL, true)
	if err != nil {
		if errx.KindOf(err) != errx.NotFound {
			return Link{}, err
		}

		id, err := s.newID()
		if err != nil {
			return Link{}, err
		}
		return tx.InsertLink(ctx, id, rawURL, &groupID)
	}

	if existing.Deleted() {
		return tx.RestoreLink(ctx, existing.ID, &groupID)
	}

	link, err := tx.ReassignLinkGroup(ctx, existing.ID, groupID)
	if err != nil && errx.KindOf(err) == errx.NotFound {
		// The guarded update affected no rows: another group claimed the
		// link between our read and write. Mint a fresh link instead.
		id, idErr := s.newID()
		if idErr != nil {
			return Link{}, idErr
		}
		return tx.InsertLink(ctx, id, rawURL, &groupID)
	}
	return link, err
}

// GetLink returns a live link by id, refreshing updated_at as an
// access-time signal.
func (s *service) GetLink(ctx context.Context, id string) (Link, error) {
	const op = "shortener.service.GetLink"

	if err := validateID(id); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	link, err := s.repo.TouchLink(ctx, id)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	return link, nil
}

// GetGroup returns a live group with its live children, touching each
// child. A group with zero live children is logically nonexistent: any
// stray references are soft-deleted along with the group, and the read
// reports NotFound. Repeat reads keep reporting NotFound.
func (s *service) GetGroup(ctx context.Context, id string) (GroupDetail, error) {
	const op = "shortener.service.GetGroup"

	if err := validateID(id); err != nil {
		return GroupDetail{}, errx.E(op, errx.Invalid, err)
	}

	var detail GroupDetail
	var empty bool
	err := s.repo.InTx(ctx, func(tx Repository) error {
		children, err := tx.FindLinksByGroupID(ctx, id, true)
		if err != nil {
			return err
		}

		if len(children) == 0 {
			if err := tx.SoftDeleteLinksByGroupID(ctx, id); err != nil {
				return err
			}
			if err := tx.SoftDeleteGroup(ctx, id); err != nil {
				return err
			}
			empty = true
			return nil
		}

		group, err := tx.FindGroupByID(ctx, id, true)
		if err != nil {
			return err
		}

		touched, err := tx.TouchLinksByGroupID(ctx, id)
		if err != nil {
			return err
		}

		detail = GroupDetail{Group: group, Children: touched}
		return nil
	})
	if err != nil {
		return GroupDetail{}, errx.E(op, errx.KindOf(err), err)
	}

	if empty {
		return GroupDetail{}, errx.E(op, errx.NotFound,
			errors.New("group has no live links"))
	}
	return detail, nil
}

// DeleteLink soft-deletes a live link.
func (s *service) DeleteLink(ctx context.Context, id string) error {
	const op = "shortener.service.DeleteLink"

	if err := validateID(id); err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	if err := s.repo.SoftDeleteLink(ctx, id); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}
	return nil
}

func (s *service) newID() (string, error) {
	id, err := s.keys.Generate(keygen.LinkIDLength)
	if err != nil {
		return "", errx.E("shortener.service.newID", errx.Unavailable, err)
	}
	return id, nil
}

func (s *service) newToken() (string, error) {
	token, err := s.keys.Generate(keygen.GroupTokenLength)
	if err != nil {
		return "", errx.E("shortener.service.newToken", errx.Unavailable, err)
	}
	return token, nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return fmt.Errorf("url too long (max %d characters)", MaxURLLength)
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must include scheme (http or https)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsedURL.Host == "" {
		return errors.New("url must include host")
	}
	return nil
}

func validateID(id string) error {
	if len(id) != keygen.LinkIDLength {
		return fmt.Errorf("id must be exactly %d characters", keygen.LinkIDLength)
	}
	return nil
}
