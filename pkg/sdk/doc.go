// Package zoomdex provides an HTTP client for the zoomdex region retrieval
// and semantic query service.
//
// The client mirrors the REST API one to one: dataset discovery, index
// lifecycle, semantic search and detection, region classification, and
// pixel-exact region extraction.
//
//	client, _ := zoomdex.New("http://localhost:8080",
//	    zoomdex.WithAPIKey("secret"),
//	)
//
//	out, _ := client.Search(ctx, "andromeda", zoomdex.SearchRequest{
//	    Query: "spiral galaxy",
//	    TopK:  10,
//	})
//	for _, hit := range out.Hits {
//	    fmt.Printf("#%d score=%.3f at (%d,%d)\n", hit.Rank, hit.Score, hit.BBox.X, hit.BBox.Y)
//	}
//
// Failed requests carry the server's error taxonomy: check them with
// errors.Is against the exported sentinels, or errors.As against *APIError
// for the raw HTTP status, kind and message.
//
// Applications embedding the engine in-process use the root package of this
// module instead; this client is for talking to a running cmd/zoomdex.
package zoomdex
