package onebot

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/joingate/internal/platform"
)

// startPoller schedules system message polls. Some implementations only
// surface join requests through get_group_system_msg, or drop request events
// while the connection is down.
func (a *Adapter) startPoller(ctx context.Context, handler platform.Handler) error {
	c := cron.New()
	if _, err := c.AddFunc(a.config.PollSchedule, func() { a.poll(ctx, handler) }); err != nil {
		return fmt.Errorf("onebot: invalid poll schedule %q: %w", a.config.PollSchedule, err)
	}
	a.cron = c
	c.Start()
	return nil
}

// stopPoller stops the schedule and waits for a running poll.
func (a *Adapter) stopPoller() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
}

// poll feeds unchecked join requests from the system message list through
// the normal admission path. Requests already known are deduplicated there.
func (a *Adapter) poll(ctx context.Context, handler platform.Handler) {
	if !a.Connected() {
		return
	}
	var msgs systemMessages
	if err := a.call(ctx, "get_group_system_msg", map[string]any{}, &msgs); err != nil {
		a.logger.Warn("system message poll failed", "error", err)
		return
	}
	for _, m := range msgs.JoinRequests {
		if m.Checked || !m.GroupID.set() || !m.RequesterUin.set() {
			continue
		}
		handler.HandleJoinRequest(ctx, m.joinEvent())
	}
}
