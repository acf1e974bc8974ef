package handler

import (
	"net/http"

	"github.com/hitoshi/bakeman/internal/catalog"
)

// ProductsHandler は商品カタログのHTTPハンドラー。
type ProductsHandler struct{}

// NewProductsHandler はProductsHandlerを生成する。
func NewProductsHandler() *ProductsHandler {
	return &ProductsHandler{}
}

// productsResponse は商品一覧のAPIレスポンス。
type productsResponse struct {
	Products []string `json:"products"`
}

// List は予測対象の商品名一覧を返す。
// GET /api/products
func (h *ProductsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, productsResponse{Products: catalog.List()})
}
