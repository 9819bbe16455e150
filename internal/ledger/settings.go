package ledger

// NotificationSettings toggles reminders per kind.
type NotificationSettings struct {
	PaydayReminders bool
	BillReminders   bool
}

func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{PaydayReminders: true, BillReminders: true}
}

func (s NotificationSettings) Enabled(kind Kind) bool {
	switch kind {
	case KindIncome:
		return s.PaydayReminders
	case KindExpense:
		return s.BillReminders
	}
	return false
}
