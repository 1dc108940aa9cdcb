// The generate-schema command writes the BigQuery schema of the castbench
// result types, for autoloading by the offline analysis pipeline.
package main

import (
	"flag"
	"os"

	"github.com/m-lab/go/cloud/bqx"
	"github.com/m-lab/go/rtx"

	"cloud.google.com/go/bigquery"

	"github.com/castbench/castbench/pkg/model"
)

var (
	resultSchema  = flag.String("result", "/var/spool/datatypes/castbench-result.json", "filename to write the test result schema")
	archiveSchema = flag.String("archive", "/var/spool/datatypes/castbench-archive.json", "filename to write the suite archive schema")
)

func writeSchema(v interface{}, filename string) {
	sch, err := bigquery.InferSchema(v)
	rtx.Must(err, "failed to infer schema for %s", filename)
	sch = bqx.RemoveRequired(sch)
	b, err := sch.ToJSONFields()
	rtx.Must(err, "failed to marshal schema for %s", filename)
	rtx.Must(os.WriteFile(filename, b, 0o644), "failed to write %s", filename)
}

func main() {
	flag.Parse()
	writeSchema(model.TestResult{}, *resultSchema)
	writeSchema(model.SuiteArchive{}, *archiveSchema)
}
