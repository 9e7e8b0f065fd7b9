// Package notify delivers desktop notifications for posture alerts, break
// reminders and sync problems.
package notify

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

const appTitle = "PostureLink"

// Desktop sends notifications through the platform notification service.
// Failures are logged, never propagated; a missed toast must not disturb
// the monitoring loop.
type Desktop struct {
	logger *zap.Logger
	sound  bool
}

func NewDesktop(sound bool, logger *zap.Logger) *Desktop {
	return &Desktop{logger: logger, sound: sound}
}

// PostureAlert reports a sustained bad-posture episode.
func (d *Desktop) PostureAlert(count int) {
	msg := "Sit up straight! Sustained bad posture detected."
	if count > 1 {
		msg = fmt.Sprintf("Sit up straight! Alert %d this session.", count)
	}
	d.send(appTitle, msg)
	if d.sound {
		if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			d.logger.Warn("unable to play alert sound", zap.Error(err))
		}
	}
}

// BreakReminder suggests standing up after a long stretch of sitting.
func (d *Desktop) BreakReminder(elapsed time.Duration) {
	d.send(appTitle, fmt.Sprintf("You have been sitting for %s. Time for a break.", elapsed.Round(time.Minute)))
}

// SyncNotice reports sync trouble, already throttled by the caller.
func (d *Desktop) SyncNotice(message string) {
	d.send(appTitle, message)
}

func (d *Desktop) send(title, msg string) {
	if err := beeep.Notify(title, msg, ""); err != nil {
		d.logger.Warn("unable to display notification", zap.Error(err))
	}
}
