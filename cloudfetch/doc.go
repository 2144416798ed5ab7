// Package cloudfetch implements a protocol-agnostic, memory-bounded,
// concurrent downloader for warehouse query results whose payload lives in
// pre-signed cloud-storage URLs rather than in-band with the query
// response.
//
// The pipeline is, in dependency order: a LinkFetcher (built by
// NewRPCLinkFetcher or NewRESTLinkFetcher) obtains the sequence of chunk Descriptors from the
// upstream Session; a Downloader pulls them off a pending Queue, downloads
// each with bounded parallelism and automatic URL refresh, and publishes
// completed chunks into a reorderBuffer; a Manager wires a LinkFetcher and
// a Downloader together behind a single Start/NextDownloaded/Stop surface;
// and a Reader drains a Manager, LZ4-decompressing and decoding each chunk
// into record batches. CompositeReader sits on top and chooses between
// that CloudFetch path and a trivial inline-batch path depending on
// whether the query's initial response carries external result links.
//
// Everything outside this pipeline -- SQL execution, authentication,
// result-set metadata, telemetry -- is a collaborator reached through the
// Session and BatchDecoder interfaces, not implemented here.
package cloudfetch
