package activity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/pkg/session"
)

// DefaultVersion is the version of a Registration created without one.
const DefaultVersion = "latest"

// Separator joins group, version and activity name.
const Separator = "!"

var (
	// ErrInvalidGroupName is returned when a group name contains Separator.
	ErrInvalidGroupName = errors.New("activities group name cannot contain '" + Separator + "'")
	// ErrDuplicateActivity is returned when an activity name is reused.
	ErrDuplicateActivity = errors.New("activity already registered")
)

// Item describes an activity found in SFN belonging to a group.
type Item struct {
	Version string
	Name    string
	ARN     string
	Created time.Time
}

// Registration groups activities under "<name>!<version>!" and registers or
// deregisters them together.
type Registration struct {
	Name    string
	Version string

	session    *session.Session
	logger     *zap.Logger
	activities map[string]*CallableActivity
}

// NewRegistration creates an empty activity group. An empty version means
// DefaultVersion.
func NewRegistration(name, version string, sess *session.Session, logger *zap.Logger) *Registration {
	if version == "" {
		version = DefaultVersion
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registration{
		Name:       name,
		Version:    version,
		session:    sess,
		logger:     logger,
		activities: make(map[string]*CallableActivity),
	}
}

func (r *Registration) String() string {
	return fmt.Sprintf("Registration '%s' [%s]", r.Name, r.Version)
}

func (r *Registration) prefix() (string, error) {
	if strings.Contains(r.Name, Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidGroupName, r.Name)
	}
	return r.Name + Separator + r.Version + Separator, nil
}

// Activity adds an activity implemented by h, named "<group>!<version>!<name>".
func (r *Registration) Activity(name string, h Handler, opts ...Option) (*CallableActivity, error) {
	pref, err := r.prefix()
	if err != nil {
		return nil, err
	}
	if _, ok := r.activities[name]; ok {
		return nil, fmt.Errorf("%w: '%s'", ErrDuplicateActivity, name)
	}
	opts = append([]Option{WithLogger(r.logger)}, opts...)
	a := NewCallable(pref+name, h, r.session, opts...)
	r.activities[name] = a
	return a, nil
}

// ExternalActivity declares an activity in the group that is implemented
// elsewhere. It is not tracked for bulk registration.
func (r *Registration) ExternalActivity(name string, opts ...Option) (*Activity, error) {
	pref, err := r.prefix()
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithLogger(r.logger)}, opts...)
	return New(pref+name, r.session, opts...), nil
}

// Get returns the activity added under the short name.
func (r *Registration) Get(name string) (*CallableActivity, bool) {
	a, ok := r.activities[name]
	return a, ok
}

// All returns every added activity ordered by name.
func (r *Registration) All() []*CallableActivity {
	all := make([]*CallableActivity, 0, len(r.activities))
	for _, a := range r.activities {
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Register creates every added activity in SFN.
func (r *Registration) Register(ctx context.Context) error {
	for _, a := range r.All() {
		if err := a.Register(ctx); err != nil {
			return err
		}
	}
	return nil
}

// splitName parses "<group>!<version>!<name>", reporting whether the
// activity belongs to this group.
func (r *Registration) splitName(full string) (version, name string, ok bool) {
	parts := strings.SplitN(full, Separator, 3)
	if len(parts) < 3 || parts[0] != r.Name {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// List returns the group's activities currently in SFN, across versions.
func (r *Registration) List(ctx context.Context) ([]Item, error) {
	var items []Item
	p := sfn.NewListActivitiesPaginator(r.session.SFN(), &sfn.ListActivitiesInput{})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing activities: %w", err)
		}
		for _, act := range page.Activities {
			version, name, ok := r.splitName(aws.ToString(act.Name))
			if !ok {
				continue
			}
			items = append(items, Item{
				Version: version,
				Name:    name,
				ARN:     aws.ToString(act.ActivityArn),
				Created: aws.ToTime(act.CreationDate),
			})
		}
	}
	return items, nil
}

// FilterVersions keeps items of version, or when version is empty, items
// of any version other than the registration's own.
func (r *Registration) FilterVersions(items []Item, version string) []Item {
	var out []Item
	for _, it := range items {
		if version == "" && it.Version != r.Version {
			out = append(out, it)
		} else if version != "" && it.Version == version {
			out = append(out, it)
		}
	}
	return out
}

// Deregister deletes the group's activities of version from SFN. An empty
// version removes every version except the registration's own. It returns
// the removed activities.
func (r *Registration) Deregister(ctx context.Context, version string) ([]Item, error) {
	items, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	items = r.FilterVersions(items, version)
	r.logger.Info("deregistering activities", zap.String("group", r.Name), zap.Int("count", len(items)))
	for i, it := range items {
		if _, err := r.session.SFN().DeleteActivity(ctx, &sfn.DeleteActivityInput{ActivityArn: aws.String(it.ARN)}); err != nil {
			return items[:i], fmt.Errorf("deleting activity %s: %w", it.ARN, err)
		}
	}
	return items, nil
}
