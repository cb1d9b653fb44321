package semantic

import (
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"

	"github.com/WessleyAI/issuescope/engine/domain"
)

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func listValue(items []string) *pb.Value {
	vals := make([]*pb.Value, len(items))
	for i, s := range items {
		vals[i] = stringValue(s)
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
}

// issuePayload lays out an issue with the stored field names.
func issuePayload(is domain.Issue) map[string]*pb.Value {
	return map[string]*pb.Value{
		"issue_id":   stringValue(is.IssueID),
		"title":      stringValue(is.Title),
		"body":       stringValue(is.Body),
		"urgency":    stringValue(is.Urgency),
		"type":       stringValue(string(is.Kind)),
		"repo_name":  stringValue(is.RepoName),
		"state":      stringValue(is.State),
		"created":    stringValue(is.Created),
		"updated":    stringValue(is.Updated),
		"user_login": stringValue(is.UserLogin),
		"url":        stringValue(is.URL),
		"comments":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(is.Comments)}},
		"user_type":  stringValue(is.UserType),
		"labels":     listValue(is.Labels),
		"assignees":  listValue(is.Assignees),
	}
}

// properties converts a payload into plain Go values.
func properties(payload map[string]*pb.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = plain(v)
	}
	return out
}

func plain(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_ListValue:
		items := make([]any, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			items[i] = plain(item)
		}
		return items
	case *pb.Value_StructValue:
		return properties(k.StructValue.GetFields())
	default:
		return nil
	}
}

// issueFromPayload rebuilds an Issue. Missing fields stay zero.
func issueFromPayload(payload map[string]*pb.Value) domain.Issue {
	str := func(key string) string {
		switch k := payload[key].GetKind().(type) {
		case *pb.Value_StringValue:
			return k.StringValue
		case *pb.Value_IntegerValue:
			return strconv.FormatInt(k.IntegerValue, 10)
		case *pb.Value_DoubleValue:
			return strconv.FormatFloat(k.DoubleValue, 'f', -1, 64)
		default:
			return ""
		}
	}
	list := func(key string) []string {
		vals := payload[key].GetListValue().GetValues()
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			out = append(out, v.GetStringValue())
		}
		return out
	}
	comments := int(payload["comments"].GetIntegerValue())
	if d := payload["comments"].GetDoubleValue(); d != 0 {
		comments = int(d)
	}
	return domain.Issue{
		IssueID:   str("issue_id"),
		Title:     str("title"),
		Body:      str("body"),
		Urgency:   str("urgency"),
		Kind:      domain.ParseKind(str("type")),
		RepoName:  str("repo_name"),
		State:     str("state"),
		Created:   str("created"),
		Updated:   str("updated"),
		UserLogin: str("user_login"),
		URL:       str("url"),
		Comments:  comments,
		UserType:  str("user_type"),
		Labels:    list("labels"),
		Assignees: list("assignees"),
	}
}

// denseVector reads a dense vector from either the current or the legacy
// output layout.
func denseVector(v *pb.VectorOutput) []float32 {
	if d := v.GetDense(); d != nil {
		return d.GetData()
	}
	return v.GetData()
}

// pointVector picks the named default vector, falling back to an unnamed one.
func pointVector(p *pb.RetrievedPoint) []float32 {
	if named := p.GetVectors().GetVectors().GetVectors(); named != nil {
		if v, ok := named[VectorName]; ok {
			return denseVector(v)
		}
	}
	return denseVector(p.GetVectors().GetVector())
}
