// Package activity defines Step Functions activities: named units of work
// that state-machine tasks invoke and that workers execute.
//
// Activity names are unique within a region, so the Registration type
// groups activities under a "<group>!<version>!" prefix and manages them
// as one versioned set.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/pkg/session"
)

// DefaultHeartbeat is the default heartbeat timeout of an activity's tasks.
const DefaultHeartbeat = 20 * time.Second

// Activity is an activity known by name. It may be implemented by this
// process (see CallableActivity) or by an external worker.
type Activity struct {
	Name string
	// Heartbeat is the task heartbeat timeout. Workers heartbeat more often
	// than this (see worker.HeartbeatInterval).
	Heartbeat time.Duration

	session *session.Session
	logger  *zap.Logger
}

// Option configures an Activity.
type Option func(*Activity)

// WithHeartbeat sets the heartbeat timeout.
func WithHeartbeat(d time.Duration) Option {
	return func(a *Activity) { a.Heartbeat = d }
}

// WithLogger sets the logger used for registration messages.
func WithLogger(l *zap.Logger) Option {
	return func(a *Activity) { a.logger = l }
}

// New declares an activity.
func New(name string, sess *session.Session, opts ...Option) *Activity {
	a := &Activity{
		Name:      name,
		Heartbeat: DefaultHeartbeat,
		session:   sess,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Activity) String() string {
	return fmt.Sprintf("Activity '%s'", a.Name)
}

// Session returns the session the activity talks to SFN through.
func (a *Activity) Session() *session.Session {
	return a.session
}

// Logger returns the activity's logger.
func (a *Activity) Logger() *zap.Logger {
	return a.logger
}

// ARN is the activity's generated ARN.
func (a *Activity) ARN() string {
	return a.session.ActivityARN(a.Name)
}

// ResourceARN lets an activity be used as a task resource.
func (a *Activity) ResourceARN() string {
	return a.ARN()
}

// HeartbeatSeconds is the heartbeat timeout rounded up to whole seconds.
func (a *Activity) HeartbeatSeconds() int {
	return int((a.Heartbeat + time.Second - 1) / time.Second)
}

// Register creates the activity in SFN. Creating an existing activity is
// not an error.
func (a *Activity) Register(ctx context.Context) error {
	if err := session.ValidateName(a.Name); err != nil {
		return fmt.Errorf("registering %s: %w", a, err)
	}
	resp, err := a.session.SFN().CreateActivity(ctx, &sfn.CreateActivityInput{Name: aws.String(a.Name)})
	if err != nil {
		return fmt.Errorf("registering %s: %w", a, err)
	}
	if got := aws.ToString(resp.ActivityArn); got != a.ARN() {
		return fmt.Errorf("registering %s: SFN returned ARN %s, expected %s", a, got, a.ARN())
	}
	a.logger.Info("activity registered",
		zap.String("activity", a.Name),
		zap.Time("created", aws.ToTime(resp.CreationDate)))
	return nil
}

// Handler runs an activity task given its JSON input. The returned value
// is JSON-encoded as the task output.
type Handler interface {
	Handle(ctx context.Context, input json.RawMessage) (any, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, input json.RawMessage) (any, error) {
	return f(ctx, input)
}

// CallableActivity is an activity implemented in this process.
type CallableActivity struct {
	*Activity
	handler Handler
}

// NewCallable declares an activity implemented by h.
func NewCallable(name string, h Handler, sess *session.Session, opts ...Option) *CallableActivity {
	return &CallableActivity{Activity: New(name, sess, opts...), handler: h}
}

func (c *CallableActivity) String() string {
	return fmt.Sprintf("CallableActivity '%s'", c.Name)
}

// CallWith runs the handler with the task input.
func (c *CallableActivity) CallWith(ctx context.Context, input json.RawMessage) (any, error) {
	return c.handler.Handle(ctx, input)
}
