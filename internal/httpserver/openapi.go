package httpserver

import (
	"github.com/getkin/kin-openapi/openapi3"
)

func newOpenAPIDoc(appVersion string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "threadtop-web API",
			Description: "Per-thread CPU accounting for Linux processes read from procfs.",
			Version:     appVersion,
		},
		Paths: &openapi3.Paths{},
		Tags: openapi3.Tags{
			{Name: "Processes", Description: "Process search and thread snapshots"},
			{Name: "Service", Description: "Health and build information"},
		},
	}

	pidParam := &openapi3.ParameterRef{Value: &openapi3.Parameter{
		Name:        "pid",
		In:          openapi3.ParameterInPath,
		Required:    true,
		Description: "Decimal process id.",
		Schema:      schemaOf("integer"),
	}}

	doc.Paths.Set("/search", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"Processes"},
			Summary:     "Find processes whose command name contains q",
			OperationID: "searchProcesses",
			Parameters: openapi3.Parameters{{Value: &openapi3.Parameter{
				Name:        "q",
				In:          openapi3.ParameterInQuery,
				Description: "Case-sensitive substring of the command name. Empty matches every process.",
				Schema:      schemaOf("string"),
			}}},
			Responses: openapi3.NewResponses(
				jsonResponse(200, "Matching pids in ascending order", objectSchema(openapi3.Schemas{
					"pids": arraySchema(schemaOf("integer")),
				})),
				textResponse(500, "Process table could not be listed"),
			),
		},
	})

	doc.Paths.Set("/stat/{pid}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"Processes"},
			Summary:     "Snapshot per-thread CPU ticks of a process",
			OperationID: "getProcessStat",
			Parameters:  openapi3.Parameters{pidParam},
			Responses: openapi3.NewResponses(
				jsonResponse(200, "Clock reading and thread stats; unreadable threads are {\"tid\":null}", snapshotSchema()),
				jsonResponse(400, "The pid is not numeric; the body is {}", objectSchema(openapi3.Schemas{})),
			),
		},
	})

	doc.Paths.Set("/api/processes/{pid}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"Processes"},
			Summary:     "Describe a process",
			OperationID: "getProcessInfo",
			Parameters:  openapi3.Parameters{pidParam},
			Responses: openapi3.NewResponses(
				jsonResponse(200, "Best-effort process details", objectSchema(openapi3.Schemas{
					"pid":            schemaOf("integer"),
					"name":           schemaOf("string"),
					"cmdline":        schemaOf("string"),
					"ppid":           schemaOf("integer"),
					"num_threads":    schemaOf("integer"),
					"username":       schemaOf("string"),
					"create_time_ms": schemaOf("integer"),
					"status":         schemaOf("string"),
				})),
				textResponse(400, "The pid is not a positive integer"),
				textResponse(404, "No such process"),
			),
		},
	})

	for _, path := range []string{"/healthz", "/api/healthz"} {
		doc.Paths.Set(path, &openapi3.PathItem{
			Get: &openapi3.Operation{
				Tags:    []string{"Service"},
				Summary: "Liveness probe",
				Responses: openapi3.NewResponses(
					jsonResponse(200, "Service is alive", objectSchema(openapi3.Schemas{
						"status": schemaOf("string"),
					})),
				),
			},
		})
	}

	readySchema := objectSchema(openapi3.Schemas{
		"status":       schemaOf("string"),
		"proc_root":    schemaOf("string"),
		"watched_pids": schemaOf("integer"),
		"reason":       schemaOf("string"),
	})
	for _, path := range []string{"/readyz", "/api/readyz"} {
		doc.Paths.Set(path, &openapi3.PathItem{
			Get: &openapi3.Operation{
				Tags:    []string{"Service"},
				Summary: "Readiness probe",
				Responses: openapi3.NewResponses(
					jsonResponse(200, "The proc root is readable", readySchema),
					jsonResponse(503, "The proc root is unreadable", readySchema),
				),
			},
		})
	}

	versionSchema := objectSchema(openapi3.Schemas{
		"version":    schemaOf("string"),
		"commit":     schemaOf("string"),
		"build_time": schemaOf("string"),
		"go_version": schemaOf("string"),
	})
	for _, path := range []string{"/version", "/api/version"} {
		doc.Paths.Set(path, &openapi3.PathItem{
			Get: &openapi3.Operation{
				Tags:      []string{"Service"},
				Summary:   "Build information",
				Responses: openapi3.NewResponses(jsonResponse(200, "Build information", versionSchema)),
			},
		})
	}

	return doc
}

func snapshotSchema() *openapi3.SchemaRef {
	thread := objectSchema(openapi3.Schemas{
		"name":  schemaOf("string"),
		"tid":   nullable(schemaOf("integer")),
		"utime": schemaOf("integer"),
		"stime": schemaOf("integer"),
	})
	thread.Value.Required = []string{"tid"}

	return objectSchema(openapi3.Schemas{
		"ticksClockNow": schemaOf("number"),
		"threadStats":   arraySchema(thread),
	})
}

func jsonResponse(status int, description string, schema *openapi3.SchemaRef) func(*openapi3.Responses) {
	return openapi3.WithStatus(status, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: ptr(description),
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})
}

func textResponse(status int, description string) func(*openapi3.Responses) {
	return openapi3.WithStatus(status, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: ptr(description),
			Content:     openapi3.NewContentWithSchema(openapi3.NewStringSchema(), []string{"text/plain"}),
		},
	})
}

func schemaOf(kind string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{kind}}}
}

func objectSchema(properties openapi3.Schemas) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: properties,
	}}
}

func arraySchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{
		Type:  &openapi3.Types{"array"},
		Items: items,
	}}
}

func nullable(ref *openapi3.SchemaRef) *openapi3.SchemaRef {
	ref.Value.Nullable = true
	return ref
}

func ptr[T any](v T) *T {
	return &v
}
