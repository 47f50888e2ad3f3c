package scraper

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"

	"github.com/use-agent/picketline/dom"
)

// geometryJS stamps every element with a node id and records its box and
// the style fields the detector reads. Ids start at 1 in document order.
const geometryJS = `() => {
	const nodes = {};
	let id = 0;
	for (const el of document.querySelectorAll('*')) {
		const key = String(++id);
		el.setAttribute('` + dom.NodeIDAttr + `', key);
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		const z = parseInt(s.zIndex, 10);
		const o = parseFloat(s.opacity);
		nodes[key] = {
			rect: {x: r.x, y: r.y, width: r.width, height: r.height},
			offsetWidth: el.offsetWidth || 0,
			offsetHeight: el.offsetHeight || 0,
			style: {
				display: s.display,
				visibility: s.visibility,
				position: s.position,
				zIndex: isNaN(z) ? 0 : z,
				opacity: isNaN(o) ? 1 : o,
			},
		};
	}
	return {viewport: {width: window.innerWidth, height: window.innerHeight}, nodes};
}`

// snapshotGeometry runs geometryJS on the page. The page HTML must be read
// after this call so it carries the node ids.
func snapshotGeometry(p *rod.Page) (*dom.Geometry, error) {
	res, err := p.Eval(geometryJS)
	if err != nil {
		return nil, fmt.Errorf("geometry snapshot: %w", err)
	}
	return decodeGeometry(res.Value)
}

func decodeGeometry(v gson.JSON) (*dom.Geometry, error) {
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	var geom dom.Geometry
	if err := json.Unmarshal(raw, &geom); err != nil {
		return nil, fmt.Errorf("decode geometry: %w", err)
	}
	if geom.Nodes == nil {
		geom.Nodes = map[string]dom.NodeGeometry{}
	}
	return &geom, nil
}
