package card

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/use-agent/picketline/dom"
)

// LogoSlot is a card logo position still waiting for a logo.
type LogoSlot struct {
	Node    *html.Node
	Company string
}

// safeURL accepts only http(s) logo sources.
func safeURL(u string) bool {
	l := strings.ToLower(strings.TrimSpace(u))
	return strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "http://")
}

// PendingLogoSlots returns the unresolved logo slots under root in document
// order.
func PendingLogoSlots(root *html.Node) []LogoSlot {
	var out []LogoSlot
	dom.Walk(root, func(n *html.Node) bool {
		if n.Type != html.ElementNode {
			return true
		}
		if _, ok := dom.Attr(n, LogoSlotAttr); !ok {
			return true
		}
		if company, ok := dom.Attr(n, LogoCompanyAttr); ok && company != "" {
			out = append(out, LogoSlot{Node: n, Company: company})
		}
		return false
	})
	return out
}

// FillLogoSlot replaces the slot content with the logo image and clears the
// pending marker. The slot must still be attached.
func FillLogoSlot(tx *dom.Tx, slot *html.Node, logoURL string) bool {
	if slot == nil || !safeURL(logoURL) || !tx.IsConnected(slot) {
		return false
	}
	class := "opl-strike-card-logo"
	if inLargeCard(slot) {
		class += " opl-strike-card-logo-large"
	}
	tx.ClearChildren(slot)
	tx.AppendChild(slot, dom.NewElement("img", "class", class, "src", logoURL, "alt", "Union logo"))
	tx.RemoveAttr(slot, LogoCompanyAttr)
	return true
}

func inLargeCard(n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		class, _ := dom.Attr(p, "class")
		for _, c := range strings.Fields(class) {
			if c == "opl-strike-card-large" {
				return true
			}
			if c == "opl-strike-card-medium" || c == "opl-strike-card-small" {
				return false
			}
		}
	}
	return false
}
