package domain

// Template is a stock starter agent: the headless analogue of the "drag an
// agent onto the canvas" UI action, since this module carries no renderer.
type Template struct {
	ID   string
	Name string
	Type AgentType
	Icon string
	Code string
}

// builtinTemplates are keyed by TemplateID and rehydrated on topology
// import, which carries no agent code of its own.
var builtinTemplates = map[string]Template{
	"requester-basic": {
		ID:   "requester-basic",
		Name: "Requester",
		Type: AgentRequester,
		Icon: "user",
		Code: `// Requester: settles each of its outgoing transactions once it reaches
// DELIVERED; it does not open transactions itself.
for (const tx of ctx.transactions) {
  if (tx.state === "DELIVERED") {
    ctx.transitionState(tx.id, "SETTLED");
    ctx.log("settled " + tx.id);
  }
}
if (ctx.transactions.length === 0 && ctx.incomingTransactions.length === 0) {
  ctx.log("no connections yet");
}
`,
	},
	"provider-basic": {
		ID:   "provider-basic",
		Name: "Provider",
		Type: AgentProvider,
		Icon: "server",
		Code: `// Provider: advances anything committed to it through to delivery and
// records a deliverable hash input.
for (const tx of ctx.incomingTransactions) {
  if (tx.state === "COMMITTED") {
    ctx.transitionState(tx.id, "IN_PROGRESS");
  } else if (tx.state === "IN_PROGRESS") {
    ctx.state.deliverables = ctx.state.deliverables || {};
    ctx.state.deliverables[tx.id] = "deliverable-for-" + tx.id;
    ctx.transitionState(tx.id, "DELIVERED");
    ctx.log("delivered " + tx.id);
  }
}
`,
	},
	"validator-basic": {
		ID:   "validator-basic",
		Name: "Validator",
		Type: AgentValidator,
		Icon: "shield",
		Code: `// Validator: records in ctx.state.seen each transaction it sees in
// IN_PROGRESS; it does not open disputes.
ctx.state.seen = ctx.state.seen || {};
for (const tx of ctx.transactions.concat(ctx.incomingTransactions)) {
  const seenAt = ctx.state.seen[tx.id];
  if (tx.state === "IN_PROGRESS" && seenAt === undefined) {
    ctx.state.seen[tx.id] = true;
  }
}
`,
	},
}

// LookupTemplate returns the built-in template for id, if any.
func LookupTemplate(id string) (Template, bool) {
	t, ok := builtinTemplates[id]
	return t, ok
}

// Templates returns all built-in templates, stable-ordered by ID.
func Templates() []Template {
	order := []string{"requester-basic", "provider-basic", "validator-basic"}
	out := make([]Template, 0, len(order))
	for _, id := range order {
		out = append(out, builtinTemplates[id])
	}
	return out
}
