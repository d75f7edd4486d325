package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-ticket-reservation/internal/model"
	"github.com/iliyamo/event-ticket-reservation/internal/repository"
	"github.com/iliyamo/event-ticket-reservation/internal/variation"
)

// AdminHandler exposes the write side of the catalog: organizers,
// events, items, properties, variations, quotas and restrictions.
// Every mutation goes through the versioned repositories, so history
// is kept and the owning event's cache is cleared automatically.
type AdminHandler struct {
	Organizers   *repository.OrganizerRepo
	Events       *repository.EventRepo
	Items        *repository.ItemRepo
	Properties   *repository.PropertyRepo
	Variations   *repository.VariationRepo
	Quotas       *repository.QuotaRepo
	Restrictions *repository.RestrictionRepo
	Engine       *variation.Engine
}

// parseAsOf reads the optional as_of query parameter.
func parseAsOf(c echo.Context) (*time.Time, error) {
	raw := c.QueryParam("as_of")
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}

// CreateOrganizer handles POST /v1/organizers.
func (h *AdminHandler) CreateOrganizer(c echo.Context) error {
	var body struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := c.Bind(&body); err != nil || body.Name == "" || body.Slug == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and slug are required"})
	}
	o := &model.Organizer{Name: body.Name, Slug: body.Slug}
	if err := h.Organizers.Create(c.Request().Context(), o); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"identity": o.Identity})
}

// CreateEvent handles POST /v1/organizers/:identity/events.
func (h *AdminHandler) CreateEvent(c echo.Context) error {
	var body struct {
		Name            string     `json:"name"`
		Slug            string     `json:"slug"`
		Currency        string     `json:"currency"`
		DateFrom        time.Time  `json:"date_from"`
		DateTo          *time.Time `json:"date_to"`
		PresaleStart    *time.Time `json:"presale_start"`
		PresaleEnd      *time.Time `json:"presale_end"`
		PaymentTermDays uint32     `json:"payment_term_days"`
	}
	if err := c.Bind(&body); err != nil || body.Name == "" || body.Slug == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and slug are required"})
	}
	if body.Currency == "" {
		body.Currency = "EUR"
	}
	if body.PaymentTermDays == 0 {
		body.PaymentTermDays = 14
	}
	ev := &model.Event{
		OrganizerIdentity: c.Param("identity"),
		Name:              body.Name,
		Slug:              body.Slug,
		Currency:          body.Currency,
		DateFrom:          body.DateFrom,
		DateTo:            body.DateTo,
		PresaleStart:      body.PresaleStart,
		PresaleEnd:        body.PresaleEnd,
		PaymentTermDays:   body.PaymentTermDays,
	}
	if err := h.Events.Create(c.Request().Context(), ev); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"identity": ev.Identity})
}

// GetEvent handles GET /v1/events/:identity.  With as_of set, the
// version valid at that instant is returned instead of the head.
func (h *AdminHandler) GetEvent(c echo.Context) error {
	asOf, err := parseAsOf(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid as_of timestamp"})
	}
	ctx := c.Request().Context()
	var ev *model.Event
	if asOf != nil {
		ev, err = h.Events.AsOf(ctx, c.Param("identity"), *asOf)
	} else {
		ev, err = h.Events.Head(ctx, c.Param("identity"))
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"identity":      ev.Identity,
		"name":          ev.Name,
		"slug":          ev.Slug,
		"currency":      ev.Currency,
		"date_from":     ev.DateFrom,
		"date_to":       ev.DateTo,
		"version_start": ev.VersionStart,
		"version_end":   ev.VersionEnd,
	})
}

// UpdateEvent handles PUT /v1/events/:identity.  The previous state is
// snapshotted before the head changes.
func (h *AdminHandler) UpdateEvent(c echo.Context) error {
	ctx := c.Request().Context()
	ev, err := h.Events.Head(ctx, c.Param("identity"))
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Name            *string    `json:"name"`
		Currency        *string    `json:"currency"`
		DateFrom        *time.Time `json:"date_from"`
		DateTo          *time.Time `json:"date_to"`
		PresaleStart    *time.Time `json:"presale_start"`
		PresaleEnd      *time.Time `json:"presale_end"`
		PaymentTermDays *uint32    `json:"payment_term_days"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Name != nil {
		ev.Name = *body.Name
	}
	if body.Currency != nil {
		ev.Currency = *body.Currency
	}
	if body.DateFrom != nil {
		ev.DateFrom = *body.DateFrom
	}
	if body.DateTo != nil {
		ev.DateTo = body.DateTo
	}
	if body.PresaleStart != nil {
		ev.PresaleStart = body.PresaleStart
	}
	if body.PresaleEnd != nil {
		ev.PresaleEnd = body.PresaleEnd
	}
	if body.PaymentTermDays != nil {
		ev.PaymentTermDays = *body.PaymentTermDays
	}
	if err := h.Events.Update(ctx, ev); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CreateItem handles POST /v1/events/:identity/items.
func (h *AdminHandler) CreateItem(c echo.Context) error {
	var body struct {
		Name              string  `json:"name"`
		CategoryIdentity  *string `json:"category_identity"`
		Description       *string `json:"description"`
		DefaultPriceCents *int64  `json:"default_price_cents"`
		Active            *bool   `json:"active"`
	}
	if err := c.Bind(&body); err != nil || body.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	it := &model.Item{
		EventIdentity:     c.Param("identity"),
		CategoryIdentity:  body.CategoryIdentity,
		Name:              body.Name,
		Active:            active,
		Description:       body.Description,
		DefaultPriceCents: body.DefaultPriceCents,
	}
	if err := h.Items.Create(c.Request().Context(), it); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"identity": it.Identity})
}

// GetItem handles GET /v1/items/:identity with optional as_of reads.
func (h *AdminHandler) GetItem(c echo.Context) error {
	asOf, err := parseAsOf(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid as_of timestamp"})
	}
	ctx := c.Request().Context()
	var it *model.Item
	if asOf != nil {
		it, err = h.Items.AsOf(ctx, c.Param("identity"), *asOf)
	} else {
		it, err = h.Items.Head(ctx, c.Param("identity"))
	}
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"identity":            it.Identity,
		"name":                it.Name,
		"active":              it.Active,
		"deleted":             it.Deleted,
		"default_price_cents": it.DefaultPriceCents,
		"version_start":       it.VersionStart,
		"version_end":         it.VersionEnd,
	})
}

// UpdateItem handles PUT /v1/items/:identity.
func (h *AdminHandler) UpdateItem(c echo.Context) error {
	ctx := c.Request().Context()
	it, err := h.Items.Head(ctx, c.Param("identity"))
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Name              *string `json:"name"`
		CategoryIdentity  *string `json:"category_identity"`
		Description       *string `json:"description"`
		DefaultPriceCents *int64  `json:"default_price_cents"`
		Active            *bool   `json:"active"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Name != nil {
		it.Name = *body.Name
	}
	if body.CategoryIdentity != nil {
		it.CategoryIdentity = body.CategoryIdentity
	}
	if body.Description != nil {
		it.Description = body.Description
	}
	if body.DefaultPriceCents != nil {
		it.DefaultPriceCents = body.DefaultPriceCents
	}
	if body.Active != nil {
		it.Active = *body.Active
	}
	if err := h.Items.Update(ctx, it); err != nil {
		return fail(c, err)
	}
	h.Engine.Invalidate(it.Identity)
	return c.NoContent(http.StatusNoContent)
}

// SetItemProperties handles PUT /v1/items/:identity/properties,
// replacing the attached property set.
func (h *AdminHandler) SetItemProperties(c echo.Context) error {
	var body struct {
		PropertyIdentities []string `json:"property_identities"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	itemIdentity := c.Param("identity")
	if err := h.Items.SetProperties(c.Request().Context(), itemIdentity, body.PropertyIdentities); err != nil {
		return fail(c, err)
	}
	h.Engine.Invalidate(itemIdentity)
	return c.NoContent(http.StatusNoContent)
}

// CreateProperty handles POST /v1/events/:identity/properties.
func (h *AdminHandler) CreateProperty(c echo.Context) error {
	var body struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&body); err != nil || body.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	p := &model.Property{EventIdentity: c.Param("identity"), Name: body.Name}
	if err := h.Properties.CreateProperty(c.Request().Context(), p); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"identity": p.Identity})
}

// invalidatePropertyItems drops the memoized enumerations of every
// item carrying the property.  A value write changes the Cartesian
// product of all of them, so their cached combinations are stale.
func (h *AdminHandler) invalidatePropertyItems(ctx context.Context, propertyIdentity string) {
	items, err := h.Properties.ItemsOfProperty(ctx, propertyIdentity)
	if err != nil {
		// Cannot tell which items are affected; drop everything.
		h.Engine.Reset()
		return
	}
	for _, identity := range items {
		h.Engine.Invalidate(identity)
	}
}

// CreatePropertyValue handles POST /v1/properties/:identity/values.
func (h *AdminHandler) CreatePropertyValue(c echo.Context) error {
	var body struct {
		Value    string `json:"value"`
		Position int32  `json:"position"`
	}
	if err := c.Bind(&body); err != nil || body.Value == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "value is required"})
	}
	v := &model.PropertyValue{
		PropertyIdentity: c.Param("identity"),
		Value:            body.Value,
		Position:         body.Position,
	}
	if err := h.Properties.CreateValue(c.Request().Context(), v); err != nil {
		return fail(c, err)
	}
	h.invalidatePropertyItems(c.Request().Context(), v.PropertyIdentity)
	return c.JSON(http.StatusCreated, echo.Map{"identity": v.Identity})
}

// UpdatePropertyValue handles PUT /v1/property-values/:identity.  The
// previous state is snapshotted before the head changes.
func (h *AdminHandler) UpdatePropertyValue(c echo.Context) error {
	ctx := c.Request().Context()
	v, err := h.Properties.HeadValue(ctx, c.Param("identity"))
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Value    *string `json:"value"`
		Position *int32  `json:"position"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Value != nil {
		v.Value = *body.Value
	}
	if body.Position != nil {
		v.Position = *body.Position
	}
	if err := h.Properties.UpdateValue(ctx, v); err != nil {
		return fail(c, err)
	}
	h.invalidatePropertyItems(ctx, v.PropertyIdentity)
	return c.NoContent(http.StatusNoContent)
}

// CreateVariation handles POST /v1/items/:identity/variations.  The
// chosen values must cover each of the item's properties exactly once
// and must not repeat a combination that already has a variation.
func (h *AdminHandler) CreateVariation(c echo.Context) error {
	var body struct {
		ValueIdentities   []string `json:"value_identities"`
		Active            *bool    `json:"active"`
		DefaultPriceCents *int64   `json:"default_price_cents"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	itemIdentity := c.Param("identity")
	v := &model.ItemVariation{
		ItemIdentity:      itemIdentity,
		Active:            active,
		DefaultPriceCents: body.DefaultPriceCents,
	}
	if err := h.Variations.Create(c.Request().Context(), v, body.ValueIdentities); err != nil {
		return fail(c, err)
	}
	h.Engine.Invalidate(itemIdentity)
	return c.JSON(http.StatusCreated, echo.Map{"identity": v.Identity, "signature": v.Signature()})
}

// UpdateVariation handles PUT /v1/variations/:identity.  Only the
// active flag and the price override can change; the value combination
// is immutable.
func (h *AdminHandler) UpdateVariation(c echo.Context) error {
	ctx := c.Request().Context()
	v, err := h.Variations.Head(ctx, c.Param("identity"))
	if err != nil {
		return fail(c, err)
	}
	var body struct {
		Active            *bool  `json:"active"`
		DefaultPriceCents *int64 `json:"default_price_cents"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.Active != nil {
		v.Active = *body.Active
	}
	if body.DefaultPriceCents != nil {
		v.DefaultPriceCents = body.DefaultPriceCents
	}
	if err := h.Variations.Update(ctx, v); err != nil {
		return fail(c, err)
	}
	h.Engine.Invalidate(v.ItemIdentity)
	return c.NoContent(http.StatusNoContent)
}

// CreateQuota handles POST /v1/events/:identity/quotas.
func (h *AdminHandler) CreateQuota(c echo.Context) error {
	var body struct {
		Name                string   `json:"name"`
		Size                int64    `json:"size"`
		ItemIdentities      []string `json:"item_identities"`
		VariationIdentities []string `json:"variation_identities"`
	}
	if err := c.Bind(&body); err != nil || body.Name == "" || body.Size < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name and a non-negative size are required"})
	}
	q := &model.Quota{
		EventIdentity:       c.Param("identity"),
		Name:                body.Name,
		Size:                body.Size,
		ItemIdentities:      body.ItemIdentities,
		VariationIdentities: body.VariationIdentities,
	}
	if err := h.Quotas.Create(c.Request().Context(), q); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"identity": q.Identity})
}

// CreateRestriction handles POST /v1/events/:identity/restrictions.
func (h *AdminHandler) CreateRestriction(c echo.Context) error {
	var body struct {
		ItemIdentity        *string         `json:"item_identity"`
		Kind                string          `json:"kind"`
		Config              json.RawMessage `json:"config"`
		VariationIdentities []string        `json:"variation_identities"`
	}
	if err := c.Bind(&body); err != nil || body.Kind == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "kind is required"})
	}
	r := &model.Restriction{
		EventIdentity:       c.Param("identity"),
		ItemIdentity:        body.ItemIdentity,
		Kind:                body.Kind,
		Config:              body.Config,
		VariationIdentities: body.VariationIdentities,
	}
	if err := h.Restrictions.Create(c.Request().Context(), r); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"identity": r.Identity})
}

// DeleteRestriction handles DELETE /v1/restrictions/:identity.
func (h *AdminHandler) DeleteRestriction(c echo.Context) error {
	if err := h.Restrictions.Delete(c.Request().Context(), c.Param("identity")); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
