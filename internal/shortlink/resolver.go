package shortlink

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/mdouchement/fileshare/internal/database"
	"github.com/mdouchement/fileshare/internal/failure"
	"github.com/mdouchement/fileshare/internal/model"
	"github.com/mdouchement/fileshare/internal/xpath"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

const (
	// MaxCodeLength is the maximum length of a short code.
	MaxCodeLength = 32
	// MaxTargetLength is the maximum length of a target URL.
	MaxTargetLength = 2048
)

var codeRE = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// A Kind is the result of a short link resolution.
type Kind int

// Resolution kinds.
const (
	NotFound Kind = iota
	Unavailable
	Redirect
)

func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Redirect:
		return "redirect"
	default:
		return "not_found"
	}
}

// An Outcome is what a visitor of a short link gets.
type Outcome struct {
	Kind   Kind
	Target string
	Reason string
}

// A Resolver manages short links and decides where they lead.
type Resolver struct {
	logger logger.Logger
	db     database.Client
	prober Prober
}

// NewResolver returns a new Resolver.
func NewResolver(l logger.Logger, db database.Client, prober Prober) *Resolver {
	return &Resolver{
		logger: l.WithPrefix("[shortlink]"),
		db:     db,
		prober: prober,
	}
}

// DownloadPath returns the download path of the file id, the path short links point to.
func DownloadPath(id string) string {
	return xpath.Download(id)
}

// References returns true when target leads to the download path of the file id.
// The match is a case-insensitive substring search of "/download/<id>/".
func References(target, id string) bool {
	if id == "" {
		return false
	}

	if strings.Contains(strings.ToLower(target), strings.ToLower(DownloadPath(id))) {
		return true
	}

	tid, ok := xpath.DownloadID(target)
	return ok && strings.EqualFold(tid, id)
}

// ValidateCode checks the short code format.
func ValidateCode(code string) error {
	if len(code) > MaxCodeLength {
		return failure.Validation("short code must be at most %d characters", MaxCodeLength)
	}
	if !codeRE.MatchString(code) {
		return failure.Validation("short code must be alphanumeric")
	}
	return nil
}

// ValidateTarget checks that target is a server-relative path or an absolute http(s) URL.
func ValidateTarget(target string) error {
	if target == "" {
		return failure.Validation("target URL is required")
	}
	if len(target) > MaxTargetLength {
		return failure.Validation("target URL must be at most %d characters", MaxTargetLength)
	}
	if xpath.IsRelative(target) {
		return nil
	}

	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return failure.Validation("target URL must be a path or an absolute http(s) URL")
	}
	return nil
}

// Create persists a new short link.
func (r *Resolver) Create(code, target string) (*model.ShortLink, error) {
	code = strings.TrimSpace(code)
	target = strings.TrimSpace(target)

	if err := ValidateCode(code); err != nil {
		return nil, err
	}
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}

	link := &model.ShortLink{
		Code:      code,
		TargetURL: target,
	}
	if err := r.db.Save(link); err != nil {
		if r.db.IsConflict(err) {
			return nil, failure.Validation("short code %s already exists", code)
		}
		return nil, errors.Wrap(err, "could not create short link")
	}

	// The code is reused, forget the link it previously named.
	if tombstone, err := r.db.FindTombstone(code); err == nil {
		if err = r.db.DeleteTombstone(tombstone.ID); err != nil {
			r.logger.Errorf("Could not remove tombstone %s: %s", code, err)
		}
	}

	r.logger.Infof("Created %s -> %s", link.Code, link.TargetURL)
	return link, nil
}

// List returns all the short links.
func (r *Resolver) List() ([]*model.ShortLink, error) {
	return r.db.AllShortLinks()
}

// Resolve decides what a visitor of code gets. Relative targets are probed against base.
func (r *Resolver) Resolve(ctx context.Context, code, base string) (Outcome, error) {
	link, err := r.db.FindShortLinkByCode(code)
	if err != nil {
		if !r.db.IsNotFound(err) {
			return Outcome{}, errors.Wrap(err, "could not resolve short link")
		}

		tombstone, err := r.db.FindTombstone(code)
		if err != nil {
			return Outcome{Kind: NotFound, Reason: "unknown short code"}, nil
		}
		return r.unavailable(&model.ShortLink{Code: tombstone.Code, TargetURL: tombstone.TargetURL}, "file was deleted"), nil
	}

	if id, ok := xpath.LocalDownloadID(link.TargetURL, base); ok {
		file, err := r.db.FindFile(id)
		switch {
		case err != nil && r.db.IsNotFound(err):
			return r.unavailable(link, "file no longer exists"), nil
		case err != nil:
			return Outcome{}, errors.Wrap(err, "could not resolve short link")
		case !file.Active:
			return r.unavailable(link, "file is inactive"), nil
		}
	}

	target, err := xpath.Absolute(base, link.TargetURL)
	if err != nil {
		return r.unavailable(link, "target cannot be probed"), nil
	}

	if err = r.prober.Probe(ctx, target); err != nil {
		r.logger.Debugf("Probe %s: %s", target, err)
		return r.unavailable(link, "target is unreachable"), nil
	}

	return Outcome{
		Kind:   Redirect,
		Target: link.TargetURL,
	}, nil
}

// DeleteDependents removes every short link leading to the file id.
// Their codes are kept as tombstones so visitors get Unavailable instead of NotFound.
func (r *Resolver) DeleteDependents(id string) (int, error) {
	links, err := r.db.AllShortLinks()
	if err != nil {
		return 0, err
	}

	var n int
	for _, link := range links {
		if !References(link.TargetURL, id) {
			continue
		}

		if err = r.db.DeleteShortLink(link.ID); err != nil && !r.db.IsNotFound(err) {
			return n, errors.Wrapf(err, "could not delete short link %s", link.Code)
		}
		n++

		err = r.db.Save(&model.Tombstone{Code: link.Code, TargetURL: link.TargetURL})
		if err != nil && !r.db.IsConflict(err) {
			return n, errors.Wrapf(err, "could not bury short link %s", link.Code)
		}
	}

	if n > 0 {
		r.logger.Infof("Deleted %d short link(s) to file %s", n, id)
	}
	return n, nil
}

func (r *Resolver) unavailable(link *model.ShortLink, reason string) Outcome {
	r.logger.Infof("Short link %s is unavailable: %s", link.Code, reason)

	return Outcome{
		Kind:   Unavailable,
		Target: link.TargetURL,
		Reason: reason,
	}
}
