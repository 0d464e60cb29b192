package authz

import "github.com/cedar-policy/cedar-go"

const (
	typeUser      = cedar.EntityType("User")
	typeProject   = cedar.EntityType("Project")
	typeReview    = cedar.EntityType("Review")
	typeChecklist = cedar.EntityType("Checklist")
	typeAction    = cedar.EntityType("Action")
)

func userUID(id string) cedar.EntityUID {
	return cedar.NewEntityUID(typeUser, cedar.String(id))
}

// buildEntities materializes the ownership chain of a request as a flat
// entity map. Nothing is loaded here; callers pass the chain explicitly.
func buildEntities(req Request) (cedar.EntityMap, cedar.EntityUID) {
	entities := cedar.EntityMap{}
	addUser(entities, req.Principal)
	for _, userID := range req.Context {
		addUser(entities, userID)
	}

	var resource cedar.EntityUID
	switch {
	case req.Checklist != nil:
		resource = addChecklist(entities, *req.Checklist)
	case req.Review != nil:
		resource = addReview(entities, *req.Review)
	case req.Project != nil:
		resource = addProject(entities, *req.Project)
	}
	return entities, resource
}

func addUser(entities cedar.EntityMap, id string) cedar.EntityUID {
	uid := userUID(id)
	if _, ok := entities[uid]; !ok {
		entities[uid] = cedar.Entity{
			UID:        uid,
			Parents:    cedar.NewEntityUIDSet(),
			Attributes: cedar.NewRecord(cedar.RecordMap{}),
		}
	}
	return uid
}

func addProject(entities cedar.EntityMap, project Project) cedar.EntityUID {
	uid := cedar.NewEntityUID(typeProject, cedar.String(project.ID))
	members := make([]cedar.Value, 0, len(project.MemberIDs))
	for _, memberID := range project.MemberIDs {
		members = append(members, addUser(entities, memberID))
	}
	entities[uid] = cedar.Entity{
		UID:     uid,
		Parents: cedar.NewEntityUIDSet(),
		Attributes: cedar.NewRecord(cedar.RecordMap{
			"owner":   addUser(entities, project.OwnerID),
			"members": cedar.NewSet(members...),
		}),
	}
	return uid
}

func addReview(entities cedar.EntityMap, review Review) cedar.EntityUID {
	uid := cedar.NewEntityUID(typeReview, cedar.String(review.ID))
	projectUID := addProject(entities, review.Project)
	entities[uid] = cedar.Entity{
		UID:     uid,
		Parents: cedar.NewEntityUIDSet(projectUID),
		Attributes: cedar.NewRecord(cedar.RecordMap{
			"project": projectUID,
		}),
	}
	return uid
}

func addChecklist(entities cedar.EntityMap, checklist Checklist) cedar.EntityUID {
	uid := cedar.NewEntityUID(typeChecklist, cedar.String(checklist.ID))
	attrs := cedar.RecordMap{
		"completed": cedar.Boolean(checklist.Completed),
	}
	parents := cedar.NewEntityUIDSet()
	if checklist.Review != nil {
		reviewUID := addReview(entities, *checklist.Review)
		attrs["review"] = reviewUID
		parents = cedar.NewEntityUIDSet(reviewUID)
	}
	// A reviewer removed by account deletion leaves reviewer unset.
	if checklist.ReviewerID != "" {
		attrs["reviewer"] = addUser(entities, checklist.ReviewerID)
	}
	entities[uid] = cedar.Entity{
		UID:        uid,
		Parents:    parents,
		Attributes: cedar.NewRecord(attrs),
	}
	return uid
}

func buildCedarRequest(req Request, resource cedar.EntityUID) cedar.Request {
	contextMap := cedar.RecordMap{}
	for key, userID := range req.Context {
		contextMap[cedar.String(key)] = userUID(userID)
	}
	return cedar.Request{
		Principal: userUID(req.Principal),
		Action:    cedar.NewEntityUID(typeAction, cedar.String(req.Action)),
		Resource:  resource,
		Context:   cedar.NewRecord(contextMap),
	}
}
