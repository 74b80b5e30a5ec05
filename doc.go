// Package zoomdex provides region retrieval and semantic queries over
// tile-pyramid images: gigapixel mosaics served as DZI-style level/col/row
// tile trees, searched with CLIP-style text and image embeddings.
//
// The package embeds the full engine in-process. Tile pyramids come from a
// local directory or S3-compatible object storage; caches, claims and
// index state live in Valkey or Redis.
//
// # Direct calls
//
//	eng, _ := zoomdex.New(ctx,
//	    zoomdex.WithValkey("localhost:6379", ""),
//	    zoomdex.WithTileDir("data/tiles"),
//	    zoomdex.WithEncoder(myCLIP),
//	)
//	defer eng.Close()
//
//	snip, _ := eng.ExtractRegion(ctx, "m31", zoomdex.BBox{X: 100, Y: 200, Width: 512, Height: 512})
//	job, _ := eng.BuildIndex(ctx, "m31")
//
// # Fluent queries
//
//	out, _ := eng.Query("m31").
//	    Text("spiral galaxy").
//	    TopK(10).
//	    Expand().
//	    Do(ctx)
//
// Deployments that want the HTTP API instead run cmd/zoomdex and talk to
// it with the client in pkg/sdk.
package zoomdex
