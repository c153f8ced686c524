// Package lang implements a tag-based template language. Documents are
// ordinary markup with two additions: {expression} bindings, evaluated and
// HTML-escaped into the output, and control tags in the "t:" namespace.
//
// Every expression is an expr-lang expression. Compiled programs are kept in
// an LRU cache keyed by source text, and parsed templates are kept per
// source until the source's modification time changes.
//
// # Example
//
//	<t:param name="title" default="'Untitled'"/>
//	<h1>{title}</h1>
//	<ul>
//	  <t:loop array="items" item="it" index="i">
//	    <li class="{i % 2 == 0 ? 'even' : 'odd'}">{it.name}</li>
//	  </t:loop>
//	</ul>
//	<t:if test="len(items) == 0">
//	  <p>Nothing here.</p>
//	<t:else/>
//	  <p>{len(items)} items</p>
//	</t:if>
//
// # Control tags
//
//	t:set        assign or update a variable (op=increment, append, ...)
//	t:param      default a variable if it is not already defined
//	t:if         conditional with t:elseif and t:else markers
//	t:loop       from/to/step, array, list, collection or condition
//	t:break      leave the innermost loop
//	t:continue   start the next iteration
//	t:function   define a top-level function with t:argument children
//	t:call       invoke a function, optionally storing its result
//	t:return     end a function with an optional value
//	t:query      execute SQL built from its body with t:queryparam
//	t:raw        emit bindings without escaping
//	t:include    render another source in the current context
//	t:markdown   convert the rendered body from Markdown to HTML
//
// Hosts add their own tags with [Registry.Register].
//
// # Scoping
//
// Names resolve innermost first through block frames (loop iterations and
// function bodies) up to the enclosing function's arguments, then the
// component and request scopes. Session and application values live in an
// external [Store] and are reached through the "session" and "application"
// prefixes.
package lang
