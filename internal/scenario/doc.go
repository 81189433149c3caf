// Package scenario runs conformance scenarios against the client.
//
// A scenario is a YAML file listing client operations and what each must
// produce. Every scenario runs against a fresh in-memory store with a
// deterministic clock and key generator, so the HTTP exchanges it causes
// are reproducible and can be compared against golden files.
//
// # Scenario Format
//
//	name: siblings_then_resolve
//	description: "Concurrent writes become siblings; resolving collapses them"
//	setup:
//	  - op: props
//	    bucket: docs
//	    props: {allow_mult: true}
//	flow:
//	  - op: store
//	    bucket: docs
//	    key: readme
//	    value: '"one"'
//	    expect: {conflicted: false}
//	  - op: fetch
//	    bucket: docs
//	    key: readme
//	    expect: {siblings: 1, values: ['"one"']}
//	assertions:
//	  - type: request_count
//	    op: store
//	    count: 1
//	  - type: final_state
//	    bucket: docs
//	    key: readme
//	    siblings: 1
//
// Operations: store, fetch, delete, resolve, props, index, mapred.
//
// # Assertions
//
//   - request_count: op was sent exactly count times
//   - request_order: ops were first sent in this order (gaps allowed)
//   - request_status: every exchange of op answered with status
//   - final_state: bucket/key holds this many siblings at the end
//
// # Golden Files
//
// RunWithGolden compares the exchange trace of a scenario with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/scenario -update
package scenario
