package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// outputSchemas pins the output contract of every builtin tool. Tools
// without a schema (MCP externals) skip validation.
var outputSchemas = map[string]string{
	"subdomain_enum": `{
		"type": "object",
		"required": ["subdomains"],
		"properties": {
			"subdomains": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	"dns_resolve": `{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["subdomain", "ips", "records"],
					"properties": {
						"subdomain": {"type": "string"},
						"ips":       {"type": "array", "items": {"type": "string"}},
						"records":   {"type": "object"}
					}
				}
			}
		}
	}`,
	"http_probe": `{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["url", "status_code"],
					"properties": {
						"url":          {"type": "string"},
						"status_code":  {"type": "integer"},
						"title":        {"type": "string"},
						"technologies": {"type": "array", "items": {"type": "string"}},
						"ip":           {"type": "string"},
						"server":       {"type": "string"},
						"headers":      {"type": "object"}
					}
				}
			}
		}
	}`,
	"asn_lookup": `{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["ip", "asn"],
					"properties": {
						"ip":      {"type": "string"},
						"asn":     {"type": "string"},
						"org":     {"type": "string"},
						"country": {"type": "string"}
					}
				}
			}
		}
	}`,
	"wayback": `{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["path", "origin"],
					"properties": {
						"path":   {"type": "string"},
						"method": {"type": "string"},
						"source": {"type": "string"},
						"origin": {"type": "string"}
					}
				}
			}
		}
	}`,
	"js_mine": `{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["url", "js"],
					"properties": {
						"url": {"type": "string"},
						"js": {
							"type": "object",
							"required": ["js_files", "endpoints", "secrets"],
							"properties": {
								"js_files": {"type": "array", "items": {"type": "string"}},
								"endpoints": {
									"type": "array",
									"items": {
										"type": "object",
										"required": ["path"],
										"properties": {
											"path":      {"type": "string"},
											"method":    {"type": "string"},
											"source_js": {"type": "string"}
										}
									}
								},
								"secrets": {
									"type": "array",
									"items": {
										"type": "object",
										"required": ["kind"],
										"properties": {
											"value":     {"type": "string"},
											"kind":      {"type": "string"},
											"source_js": {"type": "string"},
											"sha256":    {"type": "string"}
										}
									}
								}
							}
						}
					}
				}
			}
		}
	}`,
	"html_crawl": `{
		"type": "object",
		"required": ["results"],
		"properties": {
			"results": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["url", "links"],
					"properties": {
						"url":   {"type": "string"},
						"links": {"type": "array", "items": {"type": "string"}},
						"forms": {
							"type": "array",
							"items": {
								"type": "object",
								"properties": {
									"action": {"type": "string"},
									"method": {"type": "string"},
									"inputs": {"type": "array", "items": {"type": "string"}}
								}
							}
						},
						"scripts": {"type": "array", "items": {"type": "string"}}
					}
				}
			}
		}
	}`,
	"vuln_scan": `{
		"type": "object",
		"required": ["vulnerabilities"],
		"properties": {
			"vulnerabilities": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["host", "template_id", "severity"],
					"properties": {
						"host":              {"type": "string"},
						"template_id":       {"type": "string"},
						"severity":          {"type": "string", "enum": ["info", "low", "medium", "high", "critical"]},
						"matched_at":        {"type": "string"},
						"matcher_name":      {"type": "string"},
						"extracted_results": {"type": "array", "items": {"type": "string"}},
						"tags":              {"type": "array", "items": {"type": "string"}}
					}
				}
			}
		}
	}`,
}

// OutputValidator validates tool outputs against their pinned schemas.
type OutputValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewOutputValidator compiles the builtin output schemas. The schemas are
// vetted constants; compilation failures indicate a programming error and
// are logged loudly with the schema dropped.
func NewOutputValidator() *OutputValidator {
	v := &OutputValidator{schemas: make(map[string]*jsonschema.Schema, len(outputSchemas))}
	for name, raw := range outputSchemas {
		compiler := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(raw)))
		if err != nil {
			slog.Error("Invalid builtin tool schema", "tool", name, "error", err)
			continue
		}
		url := "tool://" + name + "/output.json"
		if err := compiler.AddResource(url, doc); err != nil {
			slog.Error("Failed to add tool schema resource", "tool", name, "error", err)
			continue
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			slog.Error("Failed to compile tool schema", "tool", name, "error", err)
			continue
		}
		v.schemas[name] = schema
	}
	return v
}

// Validate checks a tool's output against its schema. Tools without a
// schema pass. The output is round-tripped through JSON so Go-native types
// validate the same way the serialized form would.
func (v *OutputValidator) Validate(tool string, output map[string]any) error {
	schema, ok := v.schemas[tool]
	if !ok {
		return nil
	}

	raw, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("output not serializable: %w", err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("output not valid JSON: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("tool %q output: %w", tool, err)
	}
	return nil
}
