package domain

import "github.com/uptrace/bun"

// Product — карточка товара каталога. Заказ копирует нужные поля в снимок позиции.
type Product struct {
	bun.BaseModel `bun:"table:products,alias:p" json:"-"`
	Base

	Title     string `bun:"title,notnull" json:"title"`
	Code      string `bun:"code,notnull,unique" json:"code"`
	StoreCode string `bun:"store_code" json:"storeCode,omitempty"`

	Variants []ProductVariant `bun:"-" json:"variants,omitempty"`
}

// ProductVariant — вариант товара (размер, цвет) со своей ценой в минорных единицах.
type ProductVariant struct {
	bun.BaseModel `bun:"table:product_variants,alias:pv" json:"-"`
	Base

	ProductID string            `bun:"product_id,notnull" json:"productId"`
	Title     string            `bun:"title,notnull" json:"title"`
	Code      string            `bun:"code,notnull" json:"code"`
	Price     int64             `bun:"price,notnull" json:"price"`
	Options   map[string]string `bun:"options" json:"options,omitempty"`

	Product *Product `bun:"-" json:"product,omitempty"`
}
