// Package export renders session transcripts as downloadable text files.
package export
