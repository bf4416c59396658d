package domain

// Item is one normalized line item of a contratação.
type Item struct {
	Record      RecordID `json:"record"`
	Number      int      `json:"numero"`
	Description string   `json:"descricao"`
	Quantity    *float64 `json:"quantidade,omitempty"`
	UnitValue   *float64 `json:"valorUnitarioEstimado,omitempty"`
	TotalValue  *float64 `json:"valorTotalEstimado,omitempty"`
	DetailURL   string   `json:"detalhar"`
	NoticeURL   string   `json:"edital"`
}
