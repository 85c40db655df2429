package model

import "strconv"

// Contact is the read-only property/lead snapshot used for rendering and routing.
type Contact struct {
	ID          string
	OwnerID     string
	Address     string
	City        string
	State       string
	Zip         string
	ListPrice   *float64
	ARV         *float64
	DOM         *int
	Beds        *float64
	Baths       *float64
	Sqft        *int
	SellerPhone string
}

// Fields returns the template field map. Unknown numerics render empty.
func (c Contact) Fields() map[string]string {
	return map[string]string{
		"address": c.Address,
		"city":    c.City,
		"state":   c.State,
		"zip":     c.Zip,
		"price":   formatFloat(c.ListPrice),
		"arv":     formatFloat(c.ARV),
		"dom":     formatInt(c.DOM),
		"beds":    formatFloat(c.Beds),
		"baths":   formatFloat(c.Baths),
		"sqft":    formatInt(c.Sqft),
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
