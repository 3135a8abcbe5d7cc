package models

import "fmt"

type Credentials struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

func (c Credentials) Empty() bool { return c.Key == "" || c.Secret == "" }

// String никогда не печатает секрет.
func (c Credentials) String() string {
	if c.Key == "" {
		return "<empty>"
	}
	k := c.Key
	if len(k) > 4 {
		k = k[:4] + "…"
	}
	return fmt.Sprintf("key=%s secret=***", k)
}

func (c Credentials) GoString() string { return c.String() }
