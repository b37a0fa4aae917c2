package htmlparse

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ProductData is the typed view of a schema.org Product block. Every field
// the block does not carry is nil or empty.
type ProductData struct {
	Name         *string
	Description  *string
	SKU          *string
	URL          *string
	Brand        *string
	Images       []string
	Price        *float64
	Currency     *string
	Availability *string
	RatingValue  *float64
	ReviewCount  *int
	SellerName   *string
	SellerURL    *string
	Materials    []string
	Category     []string
	Keywords     []string
	FreeShipping *bool
	ShipsFrom    *string
	HandlingTime *string
	Raw          json.RawMessage
}

func ProductFromJSONLD(obj map[string]interface{}) *ProductData {
	p := &ProductData{}
	p.Raw, _ = json.Marshal(obj)

	p.Name = optional(CollapseSpace(StripHTML(str(obj["name"]))))
	p.Description = optional(StripHTML(str(obj["description"])))
	p.SKU = optional(firstNonEmpty(str(obj["sku"]), str(obj["productID"]), str(obj["productId"])))
	p.URL = optional(str(obj["url"]))
	p.Brand = optional(nameOf(obj["brand"]))
	p.Images = Dedupe(images(obj["image"]))
	p.Materials = Dedupe(list(obj["material"]))
	p.Category = splitCategory(str(obj["category"]))
	p.Keywords = NormalizeTags(list(obj["keywords"]))

	if rating, ok := obj["aggregateRating"].(map[string]interface{}); ok {
		p.RatingValue = number(rating["ratingValue"])
		if n := number(firstPresent(rating, "reviewCount", "ratingCount")); n != nil {
			c := int(*n)
			p.ReviewCount = &c
		}
	}

	if offer := firstOffer(obj["offers"]); offer != nil {
		p.applyOffer(offer)
	}

	return p
}

func (p *ProductData) applyOffer(offer map[string]interface{}) {
	if hasType(offer, "AggregateOffer") {
		p.Price = number(firstPresent(offer, "lowPrice", "price"))
		if nested := firstOffer(offer["offers"]); nested != nil && p.Price == nil {
			p.Price = number(nested["price"])
		}
	} else {
		p.Price = number(offer["price"])
		if p.Price == nil {
			if spec, ok := offer["priceSpecification"].(map[string]interface{}); ok {
				p.Price = number(spec["price"])
				if p.Currency == nil {
					p.Currency = optional(strings.ToUpper(str(spec["priceCurrency"])))
				}
			}
		}
	}
	if c := strings.ToUpper(str(offer["priceCurrency"])); c != "" {
		p.Currency = &c
	}
	if a := str(offer["availability"]); a != "" {
		a = a[strings.LastIndex(a, "/")+1:]
		p.Availability = &a
	}

	if seller, ok := offer["seller"].(map[string]interface{}); ok {
		p.SellerName = optional(str(seller["name"]))
		p.SellerURL = optional(str(seller["url"]))
	}

	details := firstMap(offer["shippingDetails"])
	if details == nil {
		return
	}
	if rate, ok := details["shippingRate"].(map[string]interface{}); ok {
		if v := number(rate["value"]); v != nil {
			free := *v == 0
			p.FreeShipping = &free
		}
	}
	if origin, ok := details["shippingOrigin"].(map[string]interface{}); ok {
		p.ShipsFrom = optional(firstNonEmpty(nameOf(origin["addressCountry"]), str(origin["addressRegion"])))
	}
	if delivery, ok := details["deliveryTime"].(map[string]interface{}); ok {
		if handling, ok := delivery["handlingTime"].(map[string]interface{}); ok {
			p.HandlingTime = optional(quantityRange(handling))
		}
	}
}

func firstOffer(v interface{}) map[string]interface{} {
	return firstMap(v)
}

func firstMap(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case []interface{}:
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				return m
			}
		}
	}
	return nil
}

func firstPresent(obj map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil && str(v) != "" {
			return v
		}
	}
	return nil
}

// quantityRange renders a QuantitativeValue like {minValue:1,maxValue:3,unitCode:DAY}.
func quantityRange(q map[string]interface{}) string {
	lo, hi := str(q["minValue"]), str(q["maxValue"])
	unit := strings.ToLower(str(q["unitCode"]))
	switch unit {
	case "day", "d":
		unit = "days"
	case "wee", "wk":
		unit = "weeks"
	}
	var out string
	switch {
	case lo != "" && hi != "" && lo != hi:
		out = lo + "-" + hi
	case hi != "":
		out = hi
	case lo != "":
		out = lo
	default:
		return str(q["value"])
	}
	if unit != "" {
		out += " " + unit
	}
	return out
}

func images(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case map[string]interface{}:
		return []string{firstNonEmpty(str(t["url"]), str(t["contentUrl"]))}
	case []interface{}:
		var out []string
		for _, item := range t {
			out = append(out, images(item)...)
		}
		return out
	}
	return nil
}

func list(v interface{}) []string {
	switch t := v.(type) {
	case string:
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	case []interface{}:
		var out []string
		for _, item := range t {
			if s := nameOf(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func splitCategory(s string) []string {
	if s == "" {
		return []string{}
	}
	sep := ">"
	if strings.Contains(s, "<") {
		sep = "<"
	} else if !strings.Contains(s, ">") && strings.Contains(s, "/") {
		sep = "/"
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = CollapseSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return Dedupe(out)
}

func nameOf(v interface{}) string {
	if m, ok := v.(map[string]interface{}); ok {
		return firstNonEmpty(str(m["name"]), str(m["@id"]))
	}
	return str(v)
}

func str(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func number(v interface{}) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case string:
		amount, _ := ParsePrice(t)
		return amount
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
