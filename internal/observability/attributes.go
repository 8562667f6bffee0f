// Package observability provides the service's OpenTelemetry metrics.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	attrKind   = "kind"
	attrFrom   = "from"
	attrTo     = "to"
	attrReason = "reason"
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
)

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func fromAttr(position string) attribute.KeyValue {
	return attribute.String(attrFrom, position)
}

func toAttr(position string) attribute.KeyValue {
	return attribute.String(attrTo, position)
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String(attrReason, reason)
}

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

// statusAttr groups codes as 2xx, 4xx, 5xx.
func statusAttr(code int) attribute.KeyValue {
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

// normalizePath replaces job ids so each route is one series.
func normalizePath(path string) string {
	const prefix = "/api/v1/jobs/"
	rest, ok := strings.CutPrefix(path, prefix)
	if !ok || rest == "" || rest == "analysis" || rest == "version-update" {
		return path
	}
	if _, action, found := strings.Cut(rest, "/"); found {
		return prefix + "{jobID}/" + action
	}
	return prefix + "{jobID}"
}
