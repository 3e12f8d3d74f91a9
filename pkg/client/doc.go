// Package client is the Go SDK for the agent registry.
//
// It covers every operation a catalog manager or discovery consumer needs:
// publishing Agent Cards, listing and searching published agents, reading
// the well-known surfaces, and administering peer registries.
//
// # Publishing an agent
//
//	c := client.MustNew("https://registry.example.com",
//	    client.WithBearerToken(principalToken),
//	)
//	result, err := c.Publish(ctx, card, true, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.AgentID, result.Created)
//
// # Discovering agents
//
// Public listing and card fetches need no token:
//
//	c := client.MustNew("https://registry.example.com")
//	page, err := c.ListPublic(ctx, "", 50)
//	card, err := c.GetCard(ctx, page.Items[0].ID)
//
// Add client-side card caching for chatty callers:
//
//	c := client.MustNew(registryURL, client.WithCardCacheTTL(60*time.Second))
//
// # Searching
//
// Search and the entitled listing require an authenticated principal:
//
//	page, err := c.Search(ctx, client.SearchRequest{
//	    Q:       "billing",
//	    Filters: client.SearchFilters{Tags: []string{"finance"}},
//	})
//
// # Federation
//
// Peer registry administration requires an administrator-role token:
//
//	peer, err := c.CreatePeer(ctx, "partner-registry", "https://partner.example.com", "", 3600)
//	err = c.TriggerSync(ctx, peer.ID)
package client
