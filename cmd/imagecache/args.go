package main

import "strings"

func makeExample(examples ...string) string {
	var buf strings.Builder
	for _, example := range examples {
		buf.WriteString("  " + example + "\n")
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
