package mapview

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/service"
)

// PopupView is the data handed to the "popup" template.
type PopupView struct {
	service.PopupData
	Title string
}

// Popup returns the open popup.
func (c *Coordinator) Popup() (service.PopupData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.popup == nil {
		return service.PopupData{}, false
	}
	return c.popup.data, true
}

// PopupHTML returns the rendered fragment of the open popup.
func (c *Coordinator) PopupHTML() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.popup == nil {
		return "", false
	}
	return c.renderPopupLocked(c.popup.data), true
}

// ClosePopup closes the popup if one is open.
func (c *Coordinator) ClosePopup() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closePopupLocked()
}

// Click resolves the feature under at on mapID's top layer of the active
// data type and dispatches it as a click on that layer.
func (c *Coordinator) Click(ctx context.Context, mapID string, at service.Coordinates, zoom int) (service.PopupData, error) {
	c.mu.Lock()
	w, ok := c.maps[mapID]
	dt := c.dataType
	layerID := ""
	for _, l := range c.layers.Visible() {
		if l.DataType == dt && w != nil && w.HasLayer(service.LayerID(l.DataType, l.RenderMode)) {
			layerID = service.LayerID(l.DataType, l.RenderMode)
		}
	}
	c.mu.Unlock()

	if !ok {
		return service.PopupData{}, fmt.Errorf("%w: %s", ErrMapNotFound, mapID)
	}
	if layerID == "" {
		return service.PopupData{}, fmt.Errorf("%w: no %s layer on map %s", ErrNoFeature, dt, mapID)
	}
	d, ok := w.(ClickDispatcher)
	if !ok {
		return service.PopupData{}, fmt.Errorf("map %s does not accept relayed clicks", mapID)
	}
	if c.locator == nil {
		return service.PopupData{}, errors.New("no feature locator configured")
	}

	f, found, err := c.locator.FeatureAt(ctx, dt, at, zoom)
	if err != nil {
		return service.PopupData{}, fmt.Errorf("locate feature: %w", err)
	}
	if !found {
		return service.PopupData{}, ErrNoFeature
	}
	if !d.DispatchClick(ClickEvent{LayerID: layerID, Feature: f, LngLat: at}) {
		return service.PopupData{}, ErrNoFeature
	}

	p, ok := c.Popup()
	if !ok {
		return service.PopupData{}, ErrNoFeature
	}
	return p, nil
}

// handleClick opens the popup for the clicked feature, replacing any popup
// already open. The old popup is detached before the new one is attached and
// no "closed" event is published in between.
func (c *Coordinator) handleClick(mapID string, dt service.DataType, ev ClickEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.maps[mapID]
	if !ok {
		return
	}
	anchor, ok := w.PopupAnchor()
	if !ok {
		panic(fmt.Sprintf("mapview: map %q has no popup anchor element", mapID))
	}

	index, zone := featureIndex(dt, c.vulnMode, ev.Feature.Properties)
	data := service.PopupData{
		FeatureID:   ev.Feature.ID,
		DataType:    dt,
		Coordinates: ev.LngLat,
		Index:       index,
		Zone:        zone,
	}

	action := "opened"
	if c.popup != nil {
		action = "updated"
		if prev, ok := c.maps[c.popup.mapID]; ok {
			prev.DetachPopup()
		}
	}
	w.AttachPopup(Popup{Anchor: anchor, LngLat: data.Coordinates, HTML: c.renderPopupLocked(data), Data: data})
	c.popup = &openPopup{mapID: mapID, data: data}
	c.publish("popup", action, mapID)

	c.fetchDetailsLocked(dt, data.FeatureID)
}

// fetchDetailsLocked loads tile details for the popup in the background.
// Each fetch takes a new request token; a response is applied only if its
// token is still the latest, so a slow response never overwrites a newer
// popup.
func (c *Coordinator) fetchDetailsLocked(dt service.DataType, featureID string) {
	c.detailSeq++
	token := c.detailSeq
	if c.details == nil || featureID == "" || c.closed {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		details, err := c.details.TileDetail(c.ctx, dt, featureID)

		c.mu.Lock()
		defer c.mu.Unlock()
		if token != c.detailSeq || c.popup == nil {
			c.logger.Debug("dropped stale tile details", zap.String("feature", featureID))
			return
		}
		if err != nil {
			c.logger.Warn("load tile details", zap.String("feature", featureID), zap.Error(err))
			if !errors.Is(err, context.Canceled) {
				c.toasts.Push(service.ToastWarning, "Tile details are unavailable")
			}
			return
		}

		c.popup.data.Details = details
		w, ok := c.maps[c.popup.mapID]
		if !ok {
			return
		}
		anchor, _ := w.PopupAnchor()
		data := c.popup.data
		w.DetachPopup()
		w.AttachPopup(Popup{Anchor: anchor, LngLat: data.Coordinates, HTML: c.renderPopupLocked(data), Data: data})
		c.publish("popup", "updated", c.popup.mapID)
	}()
}

func (c *Coordinator) closePopupLocked() bool {
	if c.popup == nil {
		return false
	}
	mapID := c.popup.mapID
	if w, ok := c.maps[mapID]; ok {
		w.DetachPopup()
	}
	c.popup = nil
	c.detailSeq++
	c.publish("popup", "closed", mapID)
	return true
}

func (c *Coordinator) renderPopupLocked(data service.PopupData) string {
	if c.renderer == nil {
		return ""
	}
	html, err := c.renderer.Render("popup", PopupView{PopupData: data, Title: popupTitle(data.DataType)})
	if err != nil {
		c.logger.Warn("render popup", zap.Error(err))
		return ""
	}
	return html
}

func popupTitle(dt service.DataType) string {
	switch dt {
	case service.Vulnerability:
		return "Heat vulnerability"
	case service.LocalClimateZone:
		return "Local climate zone"
	case service.PlantabilityVulnerability:
		return "Plantability and vulnerability"
	}
	return "Plantability"
}
