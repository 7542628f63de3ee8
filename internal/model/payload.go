// Package model 事件 payload 定义（按 schema 版本）
package model

// OrderCreatedV1 order.created v1 payload
//
// v1 没有 currency 字段，upcast 到 v2 时默认 USD。
type OrderCreatedV1 struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Qty    float64 `json:"qty"`
	Price  float64 `json:"price"`
}

// OrderCreatedV2 order.created v2 payload（当前版本）
type OrderCreatedV2 struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Qty      float64 `json:"qty"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
}

// OrderUpdatedV1 order.updated v1 payload（当前版本）
//
// 指针字段区分"未提供"与零值，未提供的字段保持原状。
type OrderUpdatedV1 struct {
	Qty   *float64 `json:"qty,omitempty"`
	Price *float64 `json:"price,omitempty"`
}

// OrderClosedV1 order.closed v1 payload（当前版本）
type OrderClosedV1 struct {
	Reason string `json:"reason,omitempty"`
}
