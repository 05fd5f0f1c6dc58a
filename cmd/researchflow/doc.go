// Command researchflow runs the research report service: it accepts
// topics over HTTP, drives each one through the multi-stage research
// pipeline, and serves the rendered reports.
package main
