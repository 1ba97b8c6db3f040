package proto

import "fmt"

// Topic is a logical channel grouping message types for fan-out.
type Topic uint8

const (
	TopicNone          Topic = iota
	TopicAnnouncements       // common channel: pings, config requests, scripts
	TopicLog                 // diagnostic log, forwarded over the link
	TopicLocalLog            // diagnostic log produced in this process
	TopicConfig              // option/setting reports to the app
	TopicStats               // statistics reports
	TopicNavReport           // fused odometry and proximity reports
	TopicSysReport           // system reports (battery, status)
	TopicNavAction           // navigator actions
	TopicRawNav              // raw compass and GPS
	TopicRawOdometry         // raw odometry from the microcontroller
	TopicRawProximity        // raw proximity reports
	TopicAction              // generic actions
	TopicMotAction           // motor actions destined for the microcontroller
	TopicTick                // one second ticks
	TopicNotification        // raised/cleared notification events
	TopicCount
)

var topicNames = [TopicCount]string{
	TopicNone:          "none",
	TopicAnnouncements: "announcements",
	TopicLog:           "log",
	TopicLocalLog:      "local_log",
	TopicConfig:        "config",
	TopicStats:         "stats",
	TopicNavReport:     "nav_report",
	TopicSysReport:     "sys_report",
	TopicNavAction:     "nav_action",
	TopicRawNav:        "raw_nav",
	TopicRawOdometry:   "raw_odometry",
	TopicRawProximity:  "raw_proximity",
	TopicAction:        "action",
	TopicMotAction:     "mot_action",
	TopicTick:          "tick_1s",
	TopicNotification:  "notification",
}

func (t Topic) String() string {
	if t < TopicCount {
		return topicNames[t]
	}
	return fmt.Sprintf("topic(%d)", uint8(t))
}

func (t Topic) Valid() bool {
	return t > TopicNone && t < TopicCount
}

// Topics returns every routable topic in id order.
func Topics() []Topic {
	topics := make([]Topic, 0, TopicCount-1)
	for t := TopicNone + 1; t < TopicCount; t++ {
		topics = append(topics, t)
	}
	return topics
}
