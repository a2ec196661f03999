package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for observability spans and metrics.
var (
	AttrModel    = attribute.Key("inference.model")
	AttrProvider = attribute.Key("inference.provider")
	AttrMethod   = attribute.Key("inference.method")

	AttrTokensInput  = attribute.Key("inference.tokens.input")
	AttrTokensOutput = attribute.Key("inference.tokens.output")
	AttrStopReason   = attribute.Key("inference.stop_reason")

	AttrToolCount = attribute.Key("inference.tool_count")
	AttrToolNames = attribute.Key("inference.tool_names")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrRequestStatus = attribute.Key("request.status")
)
