package server

import (
	"context"

	"github.com/ggoodman/graphql-server-go/auth"
	graphql "github.com/graph-gophers/graphql-go"
)

// PublishRole is the role claim the publish mutation requires by default.
const PublishRole = "graphql_server"

const publishSchemaSDL = `
schema {
	query: Query
	mutation: Mutation
}

type Query {
	health: Boolean!
}

type Mutation {
	publish(channel: String!, data: String!): Boolean!
}
`

type publishResolver struct {
	required auth.Claims
}

func (r *publishResolver) Health() bool { return true }

type publishArgs struct {
	Channel string
	Data    string
}

func (r *publishResolver) Publish(ctx context.Context, args publishArgs) (bool, error) {
	if err := RequireClaims(ctx, r.required); err != nil {
		return false, err
	}
	if err := Publish(ctx, args.Channel, args.Data); err != nil {
		return false, err
	}
	return true, nil
}

func newPublishSchema(required auth.Claims) (*graphql.Schema, error) {
	return graphql.ParseSchema(publishSchemaSDL, &publishResolver{required: required})
}

const subscriptionsSchemaSDL = `
schema {
	query: Query
	subscription: Subscription
}

type Query {
	health: Boolean!
}

type Subscription {
	channel(name: String!): String!
}
`

type subscriptionsResolver struct{}

func (subscriptionsResolver) Health() bool { return true }

func (subscriptionsResolver) Channel(ctx context.Context, args struct{ Name string }) (<-chan string, error) {
	return Subscribe(ctx, args.Name)
}

// NewSubscriptionsSchema returns a generic schema that exposes every broker
// channel as a subscription field:
//
//	subscription { channel(name: "orders") }
//
// Paired with the publish endpoint it makes a standalone subscriptions
// server that other services push events into.
func NewSubscriptionsSchema() (*graphql.Schema, error) {
	return graphql.ParseSchema(subscriptionsSchemaSDL, subscriptionsResolver{})
}
