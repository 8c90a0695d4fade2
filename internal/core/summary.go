package core

// UserAmount is an amount attributed to one participant.
type UserAmount struct {
	Username string `json:"username"`
	Amount   Money  `json:"amount"`
}

// GroupReport is a read-only snapshot of a group's position, as shown to
// clients and exported to spreadsheets.
type GroupReport struct {
	GroupID          int64        `json:"group_id"`
	Name             string       `json:"name"`
	Version          int64        `json:"version"`
	Balances         []UserAmount `json:"balances"`
	Settlements      []Settlement `json:"settlements"`
	Expenditure      []UserAmount `json:"expenditure"`
	TotalExpenditure Money        `json:"total_expenditure"`
	Outstanding      Money        `json:"outstanding"`
}
