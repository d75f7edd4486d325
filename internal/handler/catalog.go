package handler

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-ticket-reservation/internal/cache"
	"github.com/iliyamo/event-ticket-reservation/internal/repository"
	"github.com/iliyamo/event-ticket-reservation/internal/variation"
)

// CatalogHandler exposes the read side of the catalog: item listings,
// combination enumeration, soft deletion and manual cache clearing.
type CatalogHandler struct {
	Items      *repository.ItemRepo
	Categories *repository.CategoryRepo
	Engine     *variation.Engine
	Caches     *cache.Cache
}

// NewCatalogHandler constructs a CatalogHandler.  Items, Categories
// and Engine must be non-nil; Caches may be nil to disable response
// caching.
func NewCatalogHandler(items *repository.ItemRepo, categories *repository.CategoryRepo, engine *variation.Engine, caches *cache.Cache) *CatalogHandler {
	if items == nil || categories == nil || engine == nil {
		panic("nil dependency passed to NewCatalogHandler")
	}
	return &CatalogHandler{Items: items, Categories: categories, Engine: engine, Caches: caches}
}

// ListItems handles GET /v1/events/:identity/items.  The serialized
// listing is cached per event; any mutation of the event's graph
// clears the whole scope, so a hit is always current.
func (h *CatalogHandler) ListItems(c echo.Context) error {
	eventIdentity := c.Param("identity")
	ctx := c.Request().Context()

	if h.Caches != nil {
		if payload, ok := h.Caches.ForEvent(eventIdentity).Get(ctx, "items"); ok {
			return c.JSONBlob(http.StatusOK, payload)
		}
	}
	items, err := h.Items.ListByEvent(ctx, eventIdentity)
	if err != nil {
		return fail(c, err)
	}
	out := make([]echo.Map, len(items))
	for i := range items {
		out[i] = echo.Map{
			"identity":            items[i].Identity,
			"name":                items[i].Name,
			"active":              items[i].Active,
			"category_identity":   items[i].CategoryIdentity,
			"default_price_cents": items[i].DefaultPriceCents,
		}
	}
	payload, err := json.Marshal(echo.Map{"items": out})
	if err != nil {
		return fail(c, err)
	}
	if h.Caches != nil {
		h.Caches.ForEvent(eventIdentity).Set(ctx, "items", payload)
	}
	return c.JSONBlob(http.StatusOK, payload)
}

// Variations handles GET /v1/items/:identity/variations.  Every
// combination of the item's property values is returned whether or not
// an override record exists for it.  Pass use_cache=false to bypass
// the engine's memo.
func (h *CatalogHandler) Variations(c echo.Context) error {
	itemIdentity := c.Param("identity")
	ctx := c.Request().Context()

	item, err := h.Items.Head(ctx, itemIdentity)
	if err != nil {
		return fail(c, err)
	}
	useCache := c.QueryParam("use_cache") != "false"
	bindings, err := h.Engine.Enumerate(ctx, itemIdentity, useCache)
	if err != nil {
		return fail(c, err)
	}
	out := make([]echo.Map, len(bindings))
	for i := range bindings {
		b := &bindings[i]
		values := make([]echo.Map, len(b.Values))
		for j, v := range b.Values {
			values[j] = echo.Map{
				"property_identity": v.PropertyIdentity,
				"value_identity":    v.Identity,
				"value":             v.Value,
			}
		}
		out[i] = echo.Map{
			"values":             values,
			"signature":          b.Signature(),
			"active":             b.Active(),
			"price_cents":        b.PriceCents(item.DefaultPriceCents),
			"variation_identity": b.VariationIdentity(),
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"combinations": out})
}

// DeleteItem handles DELETE /v1/items/:identity.  Items are soft
// deleted so historical orders keep resolving; the engine memo and the
// event cache are both invalidated.
func (h *CatalogHandler) DeleteItem(c echo.Context) error {
	itemIdentity := c.Param("identity")
	if err := h.Items.SoftDelete(c.Request().Context(), itemIdentity); err != nil {
		return fail(c, err)
	}
	h.Engine.Invalidate(itemIdentity)
	return c.NoContent(http.StatusNoContent)
}

// ListCategories handles GET /v1/events/:identity/categories.
func (h *CatalogHandler) ListCategories(c echo.Context) error {
	categories, err := h.Categories.ListCategories(c.Request().Context(), c.Param("identity"))
	if err != nil {
		return fail(c, err)
	}
	out := make([]echo.Map, len(categories))
	for i := range categories {
		out[i] = echo.Map{
			"identity": categories[i].Identity,
			"name":     categories[i].Name,
			"position": categories[i].Position,
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"categories": out})
}

// ItemQuestions handles GET /v1/items/:identity/questions, listing the
// input fields a buyer has to answer for this item.
func (h *CatalogHandler) ItemQuestions(c echo.Context) error {
	questions, err := h.Categories.QuestionsByItem(c.Request().Context(), c.Param("identity"))
	if err != nil {
		return fail(c, err)
	}
	out := make([]echo.Map, len(questions))
	for i := range questions {
		out[i] = echo.Map{
			"identity": questions[i].Identity,
			"question": questions[i].Question,
			"type":     questions[i].Type,
			"required": questions[i].Required,
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"questions": out})
}

// ClearCache handles POST /v1/events/:identity/cache/clear, dropping
// every cached entry of the event in one O(1) operation.
func (h *CatalogHandler) ClearCache(c echo.Context) error {
	if h.Caches != nil {
		if err := h.Caches.ForEvent(c.Param("identity")).Clear(c.Request().Context()); err != nil {
			return fail(c, err)
		}
	}
	h.Engine.Reset()
	return c.NoContent(http.StatusNoContent)
}
