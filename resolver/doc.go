// Package resolver fetches content by location URI regardless of where it lives.
//
// A location is a URI whose scheme selects the backend:
//
//	file:///config/cloud/admin_password
//	https://example.com/declarations/do.json
//	s3://bucket-name/path/to/object?region=us-west-2
//	ipfs://127.0.0.1:5001/ipfs/<cid>
//	dns://10.0.0.2/bootstrap.example.com?type=TXT
//	aws://secret/<id>, gcp://metadata/compute/name, ...
//
// Cloud schemes are not fetched directly. They are dispatched to an
// interfaces.CloudClient, which calls GetSecret or GetMetadata depending on
// the declared parameter type.
//
// Load returns parsed content: numbers for single numeric tokens, decoded
// JSON, text, or *HTTPResponse for http(s) locations. DownloadToFile streams a
// location to disk and never leaves a partially written destination behind.
package resolver
