// Package metrics emits run and segment metrics in two forms: CloudWatch
// Embedded Metric Format lines on stdout for the Lambda entry point, and
// Prometheus collectors for the long-running server.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace for every metric the extractor emits.
const Namespace = "HandExtractor"

// CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

type entry struct {
	unit  string
	value float64
}

// Recorder collects one EMF document. Not safe for concurrent use; build one
// per operation and Flush it.
type Recorder struct {
	namespace  string
	dimensions map[string]string
	entries    map[string]entry
	properties map[string]any
}

var (
	lambdaFunction = sync.OnceValue(func() string { return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") })

	outMu sync.Mutex
	out   io.Writer = os.Stdout

	now = time.Now
)

// SetOutput redirects flushed documents, returning the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// New starts a document in namespace. On Lambda the FunctionName dimension
// is added automatically.
func New(namespace string) *Recorder {
	r := &Recorder{
		namespace:  namespace,
		dimensions: make(map[string]string),
		entries:    make(map[string]entry),
		properties: make(map[string]any),
	}
	if fn := lambdaFunction(); fn != "" {
		r.dimensions["FunctionName"] = fn
	}
	return r
}

// Dimension adds an indexed key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records value under name with one of the Unit constants.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.entries[name] = entry{unit: unit, value: value}
	return r
}

// Duration records d in milliseconds.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Count records name with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a searchable field that does not become a metric.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// document builds the EMF payload: properties first so dimensions and
// metric values win on key collisions.
func (r *Recorder) document() map[string]any {
	doc := make(map[string]any, 1+len(r.properties)+len(r.dimensions)+len(r.entries))
	maps.Copy(doc, r.properties)
	for k, v := range r.dimensions {
		doc[k] = v
	}

	defs := make([]metricDef, 0, len(r.entries))
	for _, name := range slices.Sorted(maps.Keys(r.entries)) {
		e := r.entries[name]
		defs = append(defs, metricDef{Name: name, Unit: e.unit})
		doc[name] = e.value
	}

	doc["_aws"] = emfDirective{
		Timestamp: now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{slices.Sorted(maps.Keys(r.dimensions))},
			Metrics:    defs,
		}},
	}
	return doc
}

// Flush writes the document as a single JSON line. A recorder without
// metrics writes nothing.
func (r *Recorder) Flush() {
	if len(r.entries) == 0 {
		return
	}
	data, err := json.Marshal(r.document())
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: marshal %s: %v\n", r.namespace, err)
		return
	}

	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(out, string(data))
}
