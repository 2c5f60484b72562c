package kafka

// Topics used by the api and relay services.
const (
	TopicReminders    = "tasks.reminders"
	TopicRemindersDLQ = "tasks.reminders.dlq"
	TopicTaskEvents   = "tasks.events"
)

// RelayGroupID is the consumer group shared by relay instances.
const RelayGroupID = "reminder-relay"
