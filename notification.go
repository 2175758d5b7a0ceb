package scheduler

import "time"

// ChannelState is a NotificationChannel's connection lifecycle state (spec §6.2).
type ChannelState string

const (
	ChannelDisconnected ChannelState = "disconnected"
	ChannelConnecting   ChannelState = "connecting"
	ChannelConnected    ChannelState = "connected"
	ChannelReconnecting ChannelState = "reconnecting"
	ChannelError        ChannelState = "error"
)

// StateEventType enumerates the lifecycle events a JobStateNotification carries.
type StateEventType string

const (
	StateStart            StateEventType = "start"
	StateProgress         StateEventType = "progress"
	StateSuccess          StateEventType = "success"
	StateFail             StateEventType = "fail"
	StateComplete         StateEventType = "complete"
	StateRetry            StateEventType = "retry"
)

// JobNotification is the "job saved" hint published after every save (spec §6.2).
// Subscribers treat it as advisory: losing it just means the next poll picks
// the record up instead of the on-the-fly lock path.
type JobNotification struct {
	JobID     string
	JobName   string
	NextRunAt *time.Time
	Priority  int
	Timestamp time.Time
	Source    string // scheduler instance id; used to drop self-originated echoes
}

// JobStateNotification carries a job lifecycle event across processes (spec §6.2/§6.4).
type JobStateNotification struct {
	JobID          string
	JobName        string
	Type           StateEventType
	Progress       *int
	Error          string
	FailCount      int
	RetryAt        *time.Time
	RetryAttempt   int
	Duration       time.Duration
	LastRunAt      *time.Time
	LastFinishedAt *time.Time
	Timestamp      time.Time
	Source         string
}

// NotificationChannel is the optional pub/sub contract implemented by
// external transports (spec §6.2). The core never blocks its event loop on
// it: handlers registered via Subscribe/SubscribeState must forward work onto
// the Processor rather than doing it inline (spec §5).
type NotificationChannel interface {
	Connect() error
	Disconnect() error
	State() ChannelState

	Publish(n JobNotification) error
	Subscribe(handler func(JobNotification)) error

	// PublishState/SubscribeState are optional; channels that don't support
	// lifecycle fan-out may make them no-ops.
	PublishState(n JobStateNotification) error
	SubscribeState(handler func(JobStateNotification)) error

	// OnStateChange/OnError let the facade log transport lifecycle events.
	OnStateChange(handler func(ChannelState))
	OnError(handler func(error))
}
